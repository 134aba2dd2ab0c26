package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"worktime/internal/cache"
	"worktime/internal/config"
	"worktime/internal/db"
	"worktime/internal/events"
	"worktime/internal/logging"
	"worktime/internal/migrate"
	"worktime/internal/repo"
	"worktime/internal/tracker"
)

// Open wires a Service for a workspace: it opens and migrates the state
// database, picks the history cache driver and builds the tracker client.
// The returned close function releases the database and cache.
func Open(ctx context.Context, workspace string, cfg *config.Config, log *logrus.Logger) (*Service, func(), error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	}
	cal, err := cfg.BusinessCalendar()
	if err != nil {
		return nil, nil, fmt.Errorf("calendar: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	version, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	log.WithFields(logrus.Fields{"db": db.Path(workspace), "schema": version}).Debug("state database ready")

	r := repo.Repo{DB: conn}
	hc, err := cache.New(cache.Options{
		Driver:    cfg.Cache.Driver,
		TTL:       cfg.Cache.TTL,
		RedisAddr: cfg.Cache.RedisAddr,
		RedisDB:   cfg.Cache.RedisDB,
		Repo:      r,
		Log:       log,
	})
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("history cache: %w", err)
	}

	client := tracker.New(cfg.Tracker.BaseURL, cfg.Tracker.Timeout, log)
	if cfg.Tracker.SessionCookieName != "" {
		client.CookieName = cfg.Tracker.SessionCookieName
	}

	eng := cfg.Engine(cal)
	eng.Log = log
	svc := &Service{
		Engine:      eng,
		Tracker:     client,
		Cache:       hc,
		Repo:        r,
		Log:         log,
		Concurrency: cfg.Tracker.Concurrency,
		Filename:    cfg.Report.Filename,
	}
	closeFn := func() {
		if c, ok := hc.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				log.WithError(err).Warn("close history cache")
			}
		}
		closeDB(conn, log)
	}
	return svc, closeFn, nil
}

func closeDB(conn *sql.DB, log logrus.FieldLogger) {
	if err := conn.Close(); err != nil {
		log.WithError(err).Warn("close db")
	}
}

// eventWriter shares the service clock with the audit log.
func (s *Service) eventWriter() events.Writer {
	return events.Writer{Now: s.now}
}
