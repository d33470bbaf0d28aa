package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/Windi-Fikriyansyah/joki_chat/internal/config"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/db"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/handlers"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/logger"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/presence"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/realtime"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/services/chat"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/services/notify"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/services/profile"
	"github.com/Windi-Fikriyansyah/joki_chat/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	if err := db.Migrate(gdb); err != nil {
		return err
	}

	rdb := realtime.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if rdb != nil {
		if err := realtime.Ping(ctx, rdb); err != nil {
			return err
		}
		defer rdb.Close()
		log.Info("redis connected", "addr", cfg.RedisAddr)
	} else {
		log.Warn("REDIS_ADDR not set; fan-out stays in this process and notifications are not relayed")
	}

	hub := realtime.NewHub(rdb, log)
	tracker := presence.NewTracker(gdb, rdb, log)
	dir := profile.NewGormDirectory(gdb)

	var opts []chat.Option
	var relay *notify.Relay
	if rdb != nil {
		relay = notify.NewRelay(gdb, rdb, log, cfg.NotifyInterval)
		opts = append(opts, chat.WithNotifier(relay))
	}
	svc := chat.New(store.New(gdb), dir, hub, tracker, log, opts...)

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(log),
	})
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		ExposeHeaders:    "Content-Length",
		AllowCredentials: true,
	}))
	app.Options("/*", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	handlers.Routes(app, handlers.NewChatHandler(svc, log), &handlers.PresenceHandler{Svc: svc}, cfg.JWTSecret)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}
	g.Go(func() error {
		log.Info("listening", "port", cfg.AppPort)
		return app.Listen(":" + cfg.AppPort)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		return app.ShutdownWithTimeout(cfg.ShutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
