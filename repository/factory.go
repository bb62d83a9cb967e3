package repository

import (
	"context"
	"fmt"

	coursechange "github.com/jacobmichels/Course-Change-Notifier"
	"github.com/jacobmichels/Course-Change-Notifier/config"
	"github.com/rs/zerolog/log"
)

func New(ctx context.Context, cfg config.Database) (coursechange.Repository, error) {
	switch cfg.Type {
	case "sqlite":
		log.Info().Str("connection", cfg.SQLite.ConnectionString).Msg("creating sqlite repository")
		return NewSQLiteRepository(ctx, cfg.SQLite)
	case "postgres":
		log.Info().Str("host", cfg.Postgres.Host).Str("db", cfg.Postgres.DBName).Msg("creating postgres repository")
		return NewPostgresRepository(ctx, cfg.Postgres)
	case "firestore":
		log.Info().Str("project", cfg.Firestore.ProjectID).Msg("creating firestore repository")
		return NewFirestoreRepository(ctx, cfg.Firestore)
	default:
		return nil, fmt.Errorf("invalid database type %q", cfg.Type)
	}
}
