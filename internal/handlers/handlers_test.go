package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Windi-Fikriyansyah/joki_chat/internal/handlers"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/logger"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/middleware"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/models"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/presence"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/realtime"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/services/chat"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/services/profile"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/store"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/testutil"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/utils"
)

const jwtSecret = "rahasia-test"

type env struct {
	app    *fiber.App
	buyer  models.User
	artist models.User
	other  models.User
}

type body struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	Code      string          `json:"code"`
	Created   bool            `json:"created"`
	Duplicate bool            `json:"duplicate"`
	Data      json.RawMessage `json:"data"`
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gdb := testutil.NewDB(t)
	log := logger.Discard()

	hub := realtime.NewHub(nil, log)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	svc := chat.New(store.New(gdb), profile.NewGormDirectory(gdb), hub, presence.NewTracker(gdb, nil, log), log)

	app := fiber.New(fiber.Config{ErrorHandler: handlers.ErrorHandler(log)})
	handlers.Routes(app, handlers.NewChatHandler(svc, log), &handlers.PresenceHandler{Svc: svc}, jwtSecret)

	return &env{
		app:    app,
		buyer:  testutil.CreateUser(t, gdb, "budi", models.RoleCustomer),
		artist: testutil.CreateArtist(t, gdb, "sari", "Sari Art"),
		other:  testutil.CreateUser(t, gdb, "tono", models.RoleCustomer),
	}
}

func (e *env) do(t *testing.T, as models.User, method, path, payload string) (int, body) {
	t.Helper()

	var r io.Reader
	if payload != "" {
		r = strings.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if as.ID != uuid.Nil {
		tok, err := utils.SignJWT(jwtSecret, as.ID.String(), string(as.Role), 60)
		require.NoError(t, err)
		req.AddCookie(&http.Cookie{Name: middleware.CookieName, Value: tok})
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var b body
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &b), string(raw))
	}
	return resp.StatusCode, b
}

func (e *env) openConversation(t *testing.T) chat.ConversationSummary {
	t.Helper()
	status, b := e.do(t, e.buyer, "POST", "/api/chat/conversations", `{"peer_id":"`+e.artist.ID.String()+`"}`)
	require.Contains(t, []int{fiber.StatusOK, fiber.StatusCreated}, status)
	var s chat.ConversationSummary
	require.NoError(t, json.Unmarshal(b.Data, &s))
	return s
}

func TestChatFlow(t *testing.T) {
	e := newEnv(t)

	status, b := e.do(t, e.buyer, "POST", "/api/chat/conversations", `{"peer_id":"`+e.artist.ID.String()+`"}`)
	require.Equal(t, fiber.StatusCreated, status)
	assert.True(t, b.Created)
	var conv chat.ConversationSummary
	require.NoError(t, json.Unmarshal(b.Data, &conv))
	assert.Equal(t, "Sari Art", conv.Peer.DisplayName)

	// the artist opening the same pair gets the same conversation
	status, b = e.do(t, e.artist, "POST", "/api/chat/conversations", `{"peer_id":"`+e.buyer.ID.String()+`"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.False(t, b.Created)
	var again chat.ConversationSummary
	require.NoError(t, json.Unmarshal(b.Data, &again))
	assert.Equal(t, conv.ID, again.ID)

	base := "/api/chat/conversations/" + conv.ID.String()

	status, b = e.do(t, e.buyer, "POST", base+"/messages", `{"text":"  halo kak  ","client_token":"c-1"}`)
	require.Equal(t, fiber.StatusCreated, status)
	var msg models.Message
	require.NoError(t, json.Unmarshal(b.Data, &msg))
	assert.Equal(t, "halo kak", msg.Content)
	assert.Equal(t, e.artist.ID, msg.ReceiverID)

	status, b = e.do(t, e.buyer, "POST", base+"/messages", `{"text":"halo kak","client_token":"c-1"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.True(t, b.Duplicate)

	status, b = e.do(t, e.artist, "GET", "/api/chat/unread", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, "1", string(b.Data))

	status, b = e.do(t, e.artist, "GET", base+"/messages", "")
	require.Equal(t, fiber.StatusOK, status)
	var msgs []models.Message
	require.NoError(t, json.Unmarshal(b.Data, &msgs))
	require.Len(t, msgs, 1)

	status, b = e.do(t, e.artist, "PATCH", base+"/read", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"marked":1}`, string(b.Data))

	status, b = e.do(t, e.artist, "GET", "/api/chat/conversations?q=budi", "")
	require.Equal(t, fiber.StatusOK, status)
	var list []chat.ConversationSummary
	require.NoError(t, json.Unmarshal(b.Data, &list))
	require.Len(t, list, 1)
	assert.Zero(t, list[0].UnreadCount)
	assert.Equal(t, "halo kak", list[0].LastMessagePreview)
}

func TestGetMessagesPaging(t *testing.T) {
	e := newEnv(t)
	conv := e.openConversation(t)
	base := "/api/chat/conversations/" + conv.ID.String()

	for _, text := range []string{"satu", "dua", "tiga"} {
		status, _ := e.do(t, e.buyer, "POST", base+"/messages", `{"text":"`+text+`"}`)
		require.Equal(t, fiber.StatusCreated, status)
	}

	status, b := e.do(t, e.artist, "GET", base+"/messages?after=1&limit=1", "")
	require.Equal(t, fiber.StatusOK, status)
	var msgs []models.Message
	require.NoError(t, json.Unmarshal(b.Data, &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "dua", msgs[0].Content)

	status, _ = e.do(t, e.artist, "GET", base+"/messages?after=abc", "")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestErrorStatuses(t *testing.T) {
	e := newEnv(t)
	conv := e.openConversation(t)
	base := "/api/chat/conversations/" + conv.ID.String()

	tests := []struct {
		name   string
		as     models.User
		method string
		path   string
		body   string
		status int
	}{
		{"no token", models.User{}, "GET", "/api/chat/conversations", "", fiber.StatusUnauthorized},
		{"chat with self", e.buyer, "POST", "/api/chat/conversations", `{"peer_id":"` + e.buyer.ID.String() + `"}`, fiber.StatusBadRequest},
		{"unknown peer", e.buyer, "POST", "/api/chat/conversations", `{"peer_id":"` + uuid.NewString() + `"}`, fiber.StatusNotFound},
		{"peer id not a uuid", e.buyer, "POST", "/api/chat/conversations", `{"peer_id":"abc"}`, fiber.StatusBadRequest},
		{"unknown field", e.buyer, "POST", "/api/chat/conversations", `{"peer_id":"` + e.artist.ID.String() + `","product_id":1}`, fiber.StatusBadRequest},
		{"empty text", e.buyer, "POST", base + "/messages", `{"text":"   "}`, fiber.StatusBadRequest},
		{"missing text", e.buyer, "POST", base + "/messages", `{}`, fiber.StatusBadRequest},
		{"outsider sends", e.other, "POST", base + "/messages", `{"text":"hai"}`, fiber.StatusForbidden},
		{"outsider reads", e.other, "GET", base + "/messages", "", fiber.StatusForbidden},
		{"outsider views", e.other, "GET", base, "", fiber.StatusForbidden},
		{"bad conversation id", e.buyer, "GET", "/api/chat/conversations/xyz/messages", "", fiber.StatusBadRequest},
		{"unknown conversation", e.buyer, "PATCH", "/api/chat/conversations/" + uuid.NewString() + "/read", "", fiber.StatusNotFound},
		{"plain http on ws route", e.buyer, "GET", "/ws/chat", "", fiber.StatusUpgradeRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, b := e.do(t, tt.as, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, status)
			assert.False(t, b.Success)
			assert.NotEmpty(t, b.Message)
		})
	}
}

func TestPresenceEndpoints(t *testing.T) {
	e := newEnv(t)

	status, b := e.do(t, e.artist, "GET", "/api/presence/"+e.buyer.ID.String(), "")
	require.Equal(t, fiber.StatusOK, status)
	var st presence.Status
	require.NoError(t, json.Unmarshal(b.Data, &st))
	assert.False(t, st.IsOnline)
	assert.Nil(t, st.LastSeen)

	status, _ = e.do(t, e.buyer, "PUT", "/api/presence", `{"online":true}`)
	require.Equal(t, fiber.StatusOK, status)

	status, b = e.do(t, e.artist, "GET", "/api/presence/"+e.buyer.ID.String(), "")
	require.Equal(t, fiber.StatusOK, status)
	require.NoError(t, json.Unmarshal(b.Data, &st))
	assert.True(t, st.IsOnline)

	status, b = e.do(t, e.buyer, "PUT", "/api/presence", `{"online":false}`)
	require.Equal(t, fiber.StatusOK, status)
	require.NoError(t, json.Unmarshal(b.Data, &st))
	assert.False(t, st.IsOnline)
	assert.NotNil(t, st.LastSeen)

	status, _ = e.do(t, e.buyer, "PUT", "/api/presence", `{}`)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = e.do(t, e.buyer, "GET", "/api/presence/nope", "")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestErrorBodies(t *testing.T) {
	log := logger.Discard()
	app := fiber.New(fiber.Config{ErrorHandler: handlers.ErrorHandler(log)})
	h := handlers.NewChatHandler(nil, log)
	app.Get("/unread", h.GetUnreadTotal)
	app.Get("/boom", func(c *fiber.Ctx) error { return errors.New("disk on fire") })

	tests := []struct {
		path   string
		status int
		code   string
	}{
		{"/unread", fiber.StatusUnauthorized, "UNAUTHENTICATED"},
		{"/boom", fiber.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest("GET", tt.path, nil), -1)
			require.NoError(t, err)
			defer resp.Body.Close()

			var b body
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&b))
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, b.Code)
			assert.False(t, b.Success)
			assert.NotContains(t, b.Message, "disk on fire")
		})
	}
}
