package main

import (
	"database/sql"
	"log/slog"

	"telehealth-portal/internal/appointments"
	"telehealth-portal/internal/audit"
	"telehealth-portal/internal/auth"
	"telehealth-portal/internal/config"
	"telehealth-portal/internal/httpapi"
	"telehealth-portal/internal/signaling"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type deps struct {
	db        *sql.DB
	rdb       *redis.Client
	gate      *appointments.Gate
	signaling *signaling.Service
	reaper    *signaling.Reaper
}

// buildDeps assembles the signaling stack. Sessions always live in Postgres; candidate
// queues live in Redis or Postgres depending on SIGNALING_RELAY_BACKEND.
func buildDeps(cfg config.Config, db *sql.DB, rdb *redis.Client) deps {
	gate := appointments.NewGate(appointments.NewPostgresRepo(db))
	store := signaling.NewPostgresStore(db)

	var relay signaling.CandidateRelay
	switch cfg.Signaling.RelayBackend {
	case config.RelayBackendPostgres:
		relay = signaling.NewPostgresRelay(db)
	default:
		relay = signaling.NewRedisRelay(rdb, cfg.Signaling.CandidateTTL)
	}

	auditor := signaling.AuditAdapter{Audit: audit.NewService(audit.NewPostgresRepo(db))}

	svc := signaling.NewService(store, relay, gate)
	svc.Audit = auditor
	svc.MaxPayloadBytes = cfg.Signaling.MaxPayloadBytes

	reaper := signaling.NewReaper(store, relay, cfg.Signaling.SessionMaxAge, cfg.Signaling.ReapInterval, slog.Default())
	reaper.Audit = auditor

	return deps{db: db, rdb: rdb, gate: gate, signaling: svc, reaper: reaper}
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, cfg config.Config, d deps, authMW gin.HandlerFunc, m *auth.Manager) {
	h := httpapi.Handlers{
		Auth:         m,
		Signaling:    d.signaling,
		Appointments: d.gate,
		DB:           d.db,
		Redis:        d.rdb,
	}
	httpapi.Register(r, h, authMW, httpapi.RouteOptions{DevTokens: cfg.AllowsDevTokens()})
}
