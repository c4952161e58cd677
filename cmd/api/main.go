package main

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"signflow/access"
	"signflow/audit"
	"signflow/db"
	"signflow/notify"
	"signflow/signing"
)

func main() {
	ctx := context.Background()
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	var (
		store  signing.Store
		events audit.Log
	)
	if connString := os.Getenv("DATABASE_URL"); connString != "" {
		pool, err := db.NewPool(ctx, connString)
		if err != nil {
			logger.Fatal().Err(err).Msg("bootstrap database pool")
		}
		defer pool.Close()
		store = signing.NewPGStore(pool)
		events = audit.NewPGLog(pool)
	} else {
		logger.Warn().Msg("DATABASE_URL not set; using in-memory store")
		store = signing.NewMemoryStore()
		events = audit.NewMemoryLog()
	}

	var codec access.Codec = access.LinkCodec{}
	if secret := os.Getenv("TOKEN_SECRET"); secret != "" {
		codec = access.NewSignedCodec(secret)
	}

	baseURL := os.Getenv("LINK_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080/sign"
	}

	// Default notifier logs outbound messages; a real transport is injected
	// by the host environment.
	notifier := notify.NotifierFunc(func(ctx context.Context, recipient, subject, body string) error {
		logger.Info().Str("recipient", recipient).Str("subject", subject).Msg("notification")
		return nil
	})

	dispatcher := notify.NewDispatcher(notifier, codec, baseURL, logger)
	engine := signing.NewService(store, events, dispatcher)

	if interval := sweepInterval(); interval > 0 {
		go runSweep(ctx, engine, interval, logger)
	}

	srv := &server{engine: engine, codec: codec, log: logger}

	addr := strings.TrimSpace(os.Getenv("LISTEN_ADDR"))
	if addr == "" {
		addr = ":8080"
	}
	logger.Info().Str("addr", addr).Msg("signing api listening")
	if err := http.ListenAndServe(addr, srv.routes()); err != nil {
		logger.Fatal().Err(err).Msg("http server")
	}
}

func sweepInterval() time.Duration {
	raw := strings.TrimSpace(os.Getenv("SWEEP_INTERVAL_MINUTES"))
	if raw == "" {
		return time.Hour
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes <= 0 {
		return 0
	}
	return time.Duration(minutes) * time.Minute
}

// runSweep periodically moves overdue sessions to expired so stored session
// lists do not go stale. Lazy detection on submit remains authoritative.
func runSweep(ctx context.Context, engine *signing.Service, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := engine.ExpireOverdue(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("expiration sweep")
				continue
			}
			if len(swept) > 0 {
				logger.Info().Int("count", len(swept)).Msg("sessions expired by sweep")
			}
		}
	}
}
