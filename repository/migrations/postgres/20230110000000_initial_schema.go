package postgres

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		statements := []string{
			`CREATE TABLE IF NOT EXISTS sections (
				id TEXT PRIMARY KEY,
				room_num TEXT,
				building TEXT,
				start_time TEXT,
				instructor_name TEXT,
				instructor_id TEXT,
				days_taught TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				email TEXT,
				name TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE TABLE IF NOT EXISTS tracking (
				user_id TEXT NOT NULL,
				section_id TEXT NOT NULL,
				position INTEGER NOT NULL,
				PRIMARY KEY (user_id, section_id)
			)`,
			`CREATE INDEX IF NOT EXISTS tracking_section_id ON tracking (section_id)`,
		}

		for _, statement := range statements {
			if _, err := db.NewRaw(statement).Exec(ctx); err != nil {
				return fmt.Errorf("failed to create schema: %w", err)
			}
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		for _, table := range []string{"tracking", "users", "sections"} {
			if _, err := db.NewRaw("DROP TABLE IF EXISTS ?", bun.Ident(table)).Exec(ctx); err != nil {
				return fmt.Errorf("failed to drop table %s: %w", table, err)
			}
		}

		return nil
	})
}
