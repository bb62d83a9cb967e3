package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	coursechange "github.com/jacobmichels/Course-Change-Notifier"
	"github.com/jacobmichels/Course-Change-Notifier/config"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

var _ coursechange.Repository = SQLiteRepository{}

type SQLiteRepository struct {
	db *sql.DB
}

// creates a new repository backed by sqlite
// returns an error if the connection cannot be established or if a ping fails
func NewSQLiteRepository(ctx context.Context, cfg config.SQLite) (SQLiteRepository, error) {
	db, err := sql.Open("sqlite", cfg.ConnectionString)
	if err != nil {
		return SQLiteRepository{}, fmt.Errorf("failed to open connection to sqlite: %w", err)
	}

	// sqlite allows a single writer, and ":memory:" databases are per connection
	db.SetMaxOpenConns(1)

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return SQLiteRepository{}, fmt.Errorf("failed to ping db: %w", err)
	}

	if err = migrateSQLite(db); err != nil {
		db.Close()
		return SQLiteRepository{}, err
	}

	return SQLiteRepository{db}, nil
}

func migrateSQLite(db *sql.DB) error {
	source, err := iofs.New(sqliteMigrations, "migrations/sqlite")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration: %w", err)
	}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to execute migrations: %w", err)
	}

	return nil
}

func (r SQLiteRepository) Close() error {
	return r.db.Close()
}

const selectSections = "SELECT id, room_num, building, start_time, instructor_name, instructor_id, days_taught FROM sections"

type rowScanner interface {
	Scan(dest ...any) error
}

// scanSection reads one sections row, leaving NULL columns out of the attribute set
func scanSection(row rowScanner) (coursechange.TrackedSection, error) {
	var id string
	columns := make([]sql.NullString, len(coursechange.Fields))
	dest := []any{&id}
	for i := range columns {
		dest = append(dest, &columns[i])
	}

	if err := row.Scan(dest...); err != nil {
		return coursechange.TrackedSection{}, err
	}

	attrs := make(coursechange.Attributes, len(coursechange.Fields))
	for i, field := range coursechange.Fields {
		if columns[i].Valid {
			attrs[field] = columns[i].String
		}
	}

	return coursechange.TrackedSection{ID: coursechange.SectionID(id), Attributes: attrs}, nil
}

// attributeArgs returns the column values of attrs in coursechange.Fields order
func attributeArgs(attrs coursechange.Attributes) []any {
	args := make([]any, 0, len(coursechange.Fields))
	for _, field := range coursechange.Fields {
		value, ok := attrs[field]
		args = append(args, sql.NullString{String: value, Valid: ok})
	}

	return args
}

func (r SQLiteRepository) GetTrackedSections(ctx context.Context) ([]coursechange.TrackedSection, error) {
	rows, err := r.db.QueryContext(ctx, selectSections+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sections from the db: %w", errors.Join(coursechange.ErrDependencyUnavailable, err))
	}

	var sections []coursechange.TrackedSection
	index := make(map[coursechange.SectionID]int)
	for rows.Next() {
		section, err := scanSection(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		index[section.ID] = len(sections)
		sections = append(sections, section)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	// the section rows must be closed before this query, the pool has a single connection
	rows, err = r.db.QueryContext(ctx, "SELECT section_id, user_id FROM tracking ORDER BY section_id, user_id")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscribers from the db: %w", errors.Join(coursechange.ErrDependencyUnavailable, err))
	}
	defer rows.Close()

	for rows.Next() {
		var sectionID, userID string
		if err := rows.Scan(&sectionID, &userID); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		i, ok := index[coursechange.SectionID(sectionID)]
		if !ok {
			log.Warn().Str("section", sectionID).Str("user", userID).Msg("tracking row references a missing section")
			continue
		}
		sections[i].Subscribers = append(sections[i].Subscribers, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return sections, nil
}

func (r SQLiteRepository) GetSection(ctx context.Context, id coursechange.SectionID) (coursechange.TrackedSection, error) {
	section, err := scanSection(r.db.QueryRowContext(ctx, selectSections+" WHERE id=$1", string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return coursechange.TrackedSection{}, fmt.Errorf("section %s: %w", id, coursechange.ErrNotFound)
	} else if err != nil {
		return coursechange.TrackedSection{}, fmt.Errorf("failed to fetch section %s: %w", id, err)
	}

	subscribers, err := r.column(ctx, "SELECT user_id FROM tracking WHERE section_id=$1 ORDER BY user_id", string(id))
	if err != nil {
		return coursechange.TrackedSection{}, fmt.Errorf("failed to fetch subscribers of %s: %w", id, err)
	}
	section.Subscribers = subscribers

	return section, nil
}

// column runs a query selecting a single text column
func (r SQLiteRepository) column(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		values = append(values, value)
	}

	return values, rows.Err()
}

func (r SQLiteRepository) SaveSectionAttributes(ctx context.Context, id coursechange.SectionID, attrs coursechange.Attributes) error {
	args := append([]any{string(id)}, attributeArgs(attrs)...)
	res, err := r.db.ExecContext(ctx, "UPDATE sections SET room_num=$2, building=$3, start_time=$4, instructor_name=$5, instructor_id=$6, days_taught=$7 WHERE id=$1", args...)
	if err != nil {
		return fmt.Errorf("update statement failed: %w", errors.Join(coursechange.ErrDependencyUnavailable, err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check updated rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("section %s: %w", id, coursechange.ErrNotFound)
	}

	return nil
}

func (r SQLiteRepository) GetSubscriberEmail(ctx context.Context, userID string) (string, error) {
	var email sql.NullString
	err := r.db.QueryRowContext(ctx, "SELECT email FROM users WHERE id=$1", userID).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("user %s: %w", userID, coursechange.ErrNotFound)
	} else if err != nil {
		return "", fmt.Errorf("failed to fetch email of %s: %w", userID, errors.Join(coursechange.ErrDependencyUnavailable, err))
	}

	return email.String, nil
}

func (r SQLiteRepository) AddUser(ctx context.Context, user coursechange.UserAccount) error {
	_, err := r.db.ExecContext(ctx, "INSERT INTO users (id, email, name) VALUES ($1, $2, $3) ON CONFLICT (id) DO UPDATE SET email=excluded.email, name=excluded.name", user.ID, user.Email, user.Name)
	if err != nil {
		return fmt.Errorf("failed to persist user %s: %w", user.ID, err)
	}

	return nil
}

func (r SQLiteRepository) GetUser(ctx context.Context, userID string) (coursechange.UserAccount, error) {
	user := coursechange.UserAccount{ID: userID}
	var email sql.NullString
	err := r.db.QueryRowContext(ctx, "SELECT email, name FROM users WHERE id=$1", userID).Scan(&email, &user.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return coursechange.UserAccount{}, fmt.Errorf("user %s: %w", userID, coursechange.ErrNotFound)
	} else if err != nil {
		return coursechange.UserAccount{}, fmt.Errorf("failed to fetch user %s: %w", userID, err)
	}
	user.Email = email.String

	tracked, err := r.column(ctx, "SELECT section_id FROM tracking WHERE user_id=$1 ORDER BY position", userID)
	if err != nil {
		return coursechange.UserAccount{}, fmt.Errorf("failed to fetch sections tracked by %s: %w", userID, err)
	}
	for _, id := range tracked {
		user.TrackedSections = append(user.TrackedSections, coursechange.SectionID(id))
	}

	return user, nil
}

func (r SQLiteRepository) TrackSection(ctx context.Context, userID string, id coursechange.SectionID, attrs coursechange.Attributes) error {
	txCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(txCtx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// first make sure the user exists, their email may be captured later
	if _, err = tx.ExecContext(txCtx, "INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING", userID); err != nil {
		return fmt.Errorf("failed to persist user: %w", err)
	}

	// then the section, keeping stored attributes if it is already tracked by someone else
	args := append([]any{string(id)}, attributeArgs(attrs)...)
	if _, err = tx.ExecContext(txCtx, "INSERT INTO sections (id, room_num, building, start_time, instructor_name, instructor_id, days_taught) VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (id) DO NOTHING", args...); err != nil {
		return fmt.Errorf("failed to persist section: %w", err)
	}

	// finally the subscription, appended to the end of the user's list
	var position int
	if err = tx.QueryRowContext(txCtx, "SELECT COALESCE(MAX(position), 0) + 1 FROM tracking WHERE user_id=$1", userID).Scan(&position); err != nil {
		return fmt.Errorf("failed to compute tracking position: %w", err)
	}
	if _, err = tx.ExecContext(txCtx, "INSERT INTO tracking (user_id, section_id, position) VALUES ($1, $2, $3) ON CONFLICT (user_id, section_id) DO NOTHING", userID, string(id), position); err != nil {
		return fmt.Errorf("failed to persist subscription: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r SQLiteRepository) UntrackSection(ctx context.Context, userID string, id coursechange.SectionID) error {
	txCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(txCtx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(txCtx, "DELETE FROM tracking WHERE user_id=$1 AND section_id=$2", userID, string(id)); err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}

	// check if anyone else still tracks the section
	var count int
	if err = tx.QueryRowContext(txCtx, "SELECT COUNT(*) FROM tracking WHERE section_id=$1", string(id)).Scan(&count); err != nil {
		return fmt.Errorf("failed to count subscribers: %w", err)
	}

	// if nobody does, the section no longer needs to be scanned
	if count == 0 {
		if _, err = tx.ExecContext(txCtx, "DELETE FROM sections WHERE id=$1", string(id)); err != nil {
			return fmt.Errorf("failed to delete section: %w", err)
		}
		log.Info().Str("section", id.String()).Msg("section has no subscribers left, removed")
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
