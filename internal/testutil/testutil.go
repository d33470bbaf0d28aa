// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/joki_chat/internal/db"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/models"
)

// NewDB opens a migrated SQLite database in the test's temp dir.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "chat.db") + "?_pragma=busy_timeout(5000)"
	gdb, err := db.Connect("sqlite", dsn)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}

// NewRedis starts a miniredis server and returns a client bound to it.
func NewRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

// CreateUser inserts an active user with the given name and role.
func CreateUser(t testing.TB, gdb *gorm.DB, name string, role models.Role) models.User {
	t.Helper()

	u := models.User{
		Name:     name,
		Email:    name + "@example.test",
		Role:     role,
		IsActive: true,
	}
	require.NoError(t, gdb.Create(&u).Error)
	return u
}

// CreateArtist inserts an artist with a public profile.
func CreateArtist(t testing.TB, gdb *gorm.DB, name, systemName string) models.User {
	t.Helper()

	u := CreateUser(t, gdb, name, models.RoleArtist)
	p := models.ArtistProfile{UserID: u.ID, SystemName: systemName, PhotoURL: "/uploads/" + name + ".png"}
	require.NoError(t, gdb.Create(&p).Error)
	u.ArtistProfile = &p
	return u
}
