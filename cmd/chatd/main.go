package main

import (
	"flag"
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/atrium-crm/chatcore/internal/auth"
	"github.com/atrium-crm/chatcore/internal/chat"
	"github.com/atrium-crm/chatcore/internal/config"
	"github.com/atrium-crm/chatcore/internal/handlers"
	"github.com/atrium-crm/chatcore/internal/store"
)

func main() {
	configPath := flag.String("config", "chatd.toml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	log := newLogger(cfg.Log)

	st := store.NewMemory()
	verifier := auth.NewStaticVerifier(cfg.Auth.Tokens)

	presence := chat.NewPresence(cfg.Presence.GraceDuration(), log)
	router := chat.NewRouter(chat.NewRegistry(), chat.NewMemberships(), presence, log)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handlers.New(router, st, verifier, log).Register(app)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	log.Info().Str("addr", cfg.Server.Addr).Msg("chatd listening")
	if err := app.Listen(cfg.Server.Addr); err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out = os.Stdout
	logger := zerolog.New(out)
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out})
	}
	return logger.Level(level).With().Timestamp().Logger()
}
