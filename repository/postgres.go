package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	coursechange "github.com/jacobmichels/Course-Change-Notifier"
	"github.com/jacobmichels/Course-Change-Notifier/config"
	"github.com/jacobmichels/Course-Change-Notifier/repository/migrations/postgres"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

var _ coursechange.Repository = PostgresRepository{}

type PostgresRepository struct {
	db *bun.DB
}

type sectionRow struct {
	bun.BaseModel `bun:"table:sections"`

	ID             string         `bun:"id,pk"`
	RoomNum        sql.NullString `bun:"room_num"`
	Building       sql.NullString `bun:"building"`
	StartTime      sql.NullString `bun:"start_time"`
	InstructorName sql.NullString `bun:"instructor_name"`
	InstructorID   sql.NullString `bun:"instructor_id"`
	DaysTaught     sql.NullString `bun:"days_taught"`
}

func (s *sectionRow) columns() map[coursechange.Field]*sql.NullString {
	return map[coursechange.Field]*sql.NullString{
		coursechange.FieldRoom:           &s.RoomNum,
		coursechange.FieldBuilding:       &s.Building,
		coursechange.FieldStartTime:      &s.StartTime,
		coursechange.FieldInstructorName: &s.InstructorName,
		coursechange.FieldInstructorID:   &s.InstructorID,
		coursechange.FieldDaysTaught:     &s.DaysTaught,
	}
}

func newSectionRow(id coursechange.SectionID, attrs coursechange.Attributes) sectionRow {
	row := sectionRow{ID: string(id)}
	for field, column := range row.columns() {
		value, ok := attrs[field]
		*column = sql.NullString{String: value, Valid: ok}
	}

	return row
}

func (s *sectionRow) section() coursechange.TrackedSection {
	attrs := make(coursechange.Attributes, len(coursechange.Fields))
	for field, column := range s.columns() {
		if column.Valid {
			attrs[field] = column.String
		}
	}

	return coursechange.TrackedSection{ID: coursechange.SectionID(s.ID), Attributes: attrs}
}

type userRow struct {
	bun.BaseModel `bun:"table:users"`

	ID    string         `bun:"id,pk"`
	Email sql.NullString `bun:"email"`
	Name  string         `bun:"name"`
}

type trackingRow struct {
	bun.BaseModel `bun:"table:tracking"`

	UserID    string `bun:"user_id,pk"`
	SectionID string `bun:"section_id,pk"`
	Position  int    `bun:"position"`
}

// queryHook logs every query at debug level, and failed ones as errors
type queryHook struct{}

func (queryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (queryHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	if event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows) {
		log.Error().Err(event.Err).Str("query", event.Query).Dur("duration", time.Since(event.StartTime)).Msg("Query failed")
		return
	}

	log.Debug().Str("query", event.Query).Dur("duration", time.Since(event.StartTime)).Msg("Query executed")
}

// creates a new repository backed by postgres and brings its schema up to date
func NewPostgresRepository(ctx context.Context, cfg config.Postgres) (PostgresRepository, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithAddr(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
		pgdriver.WithUser(cfg.User),
		pgdriver.WithPassword(cfg.Password),
		pgdriver.WithDatabase(cfg.DBName),
		pgdriver.WithInsecure(cfg.Insecure),
		pgdriver.WithApplicationName("course-change-notifier"),
	))
	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)

	db := bun.NewDB(sqldb, pgdialect.New())
	db.AddQueryHook(queryHook{})

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return PostgresRepository{}, fmt.Errorf("failed to ping db: %w", errors.Join(coursechange.ErrDependencyUnavailable, err))
	}

	migrator := migrate.NewMigrator(db, postgres.Migrations)
	if err := migrator.Init(ctx); err != nil {
		db.Close()
		return PostgresRepository{}, fmt.Errorf("failed to initialize migrations: %w", err)
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		db.Close()
		return PostgresRepository{}, fmt.Errorf("failed to run migrations: %w", err)
	}
	if !group.IsZero() {
		log.Info().Str("group", group.String()).Msg("Ran database migrations")
	}

	return PostgresRepository{db}, nil
}

func (r PostgresRepository) Close() error {
	return r.db.Close()
}

func (r PostgresRepository) GetTrackedSections(ctx context.Context) ([]coursechange.TrackedSection, error) {
	var rows []sectionRow
	if err := r.db.NewSelect().Model(&rows).Order("id").Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to fetch sections from the db: %w", errors.Join(coursechange.ErrDependencyUnavailable, err))
	}

	var subscriptions []trackingRow
	if err := r.db.NewSelect().Model(&subscriptions).Order("section_id", "user_id").Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to fetch subscribers from the db: %w", errors.Join(coursechange.ErrDependencyUnavailable, err))
	}

	subscribers := make(map[string][]string)
	for _, s := range subscriptions {
		subscribers[s.SectionID] = append(subscribers[s.SectionID], s.UserID)
	}

	sections := make([]coursechange.TrackedSection, 0, len(rows))
	for i := range rows {
		section := rows[i].section()
		section.Subscribers = subscribers[rows[i].ID]
		sections = append(sections, section)
	}

	return sections, nil
}

func (r PostgresRepository) GetSection(ctx context.Context, id coursechange.SectionID) (coursechange.TrackedSection, error) {
	var row sectionRow
	err := r.db.NewSelect().Model(&row).Where("id = ?", string(id)).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return coursechange.TrackedSection{}, fmt.Errorf("section %s: %w", id, coursechange.ErrNotFound)
	} else if err != nil {
		return coursechange.TrackedSection{}, fmt.Errorf("failed to fetch section %s: %w", id, err)
	}

	var subscribers []string
	err = r.db.NewSelect().Model((*trackingRow)(nil)).Column("user_id").Where("section_id = ?", string(id)).Order("user_id").Scan(ctx, &subscribers)
	if err != nil {
		return coursechange.TrackedSection{}, fmt.Errorf("failed to fetch subscribers of %s: %w", id, err)
	}

	section := row.section()
	section.Subscribers = subscribers

	return section, nil
}

func (r PostgresRepository) SaveSectionAttributes(ctx context.Context, id coursechange.SectionID, attrs coursechange.Attributes) error {
	row := newSectionRow(id, attrs)
	res, err := r.db.NewUpdate().Model(&row).WherePK().Exec(ctx)
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

func (r PostgresRepository) GetSubscriberEmail(ctx context.Context, userID string) (string, error) {
	var row userRow
	err := r.db.NewSelect().Model(&row).Column("email").Where("id = ?", userID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("user %s: %w", userID, coursechange.ErrNotFound)
	} else if err != nil {
		return "", fmt.Errorf("failed to fetch email of %s: %w", userID, errors.Join(coursechange.ErrDependencyUnavailable, err))
	}

	return row.Email.String, nil
}

func (r PostgresRepository) AddUser(ctx context.Context, user coursechange.UserAccount) error {
	row := userRow{ID: user.ID, Email: sql.NullString{String: user.Email, Valid: true}, Name: user.Name}
	_, err := r.db.NewInsert().Model(&row).
		On("CONFLICT (id) DO UPDATE").
		Set("email = EXCLUDED.email").
		Set("name = EXCLUDED.name").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to persist user %s: %w", user.ID, err)
	}

	return nil
}

func (r PostgresRepository) GetUser(ctx context.Context, userID string) (coursechange.UserAccount, error) {
	var row userRow
	err := r.db.NewSelect().Model(&row).Where("id = ?", userID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return coursechange.UserAccount{}, fmt.Errorf("user %s: %w", userID, coursechange.ErrNotFound)
	} else if err != nil {
		return coursechange.UserAccount{}, fmt.Errorf("failed to fetch user %s: %w", userID, err)
	}

	var tracked []string
	err = r.db.NewSelect().Model((*trackingRow)(nil)).Column("section_id").Where("user_id = ?", userID).Order("position").Scan(ctx, &tracked)
	if err != nil {
		return coursechange.UserAccount{}, fmt.Errorf("failed to fetch sections tracked by %s: %w", userID, err)
	}

	user := coursechange.UserAccount{ID: row.ID, Email: row.Email.String, Name: row.Name}
	for _, id := range tracked {
		user.TrackedSections = append(user.TrackedSections, coursechange.SectionID(id))
	}

	return user, nil
}

func (r PostgresRepository) TrackSection(ctx context.Context, userID string, id coursechange.SectionID, attrs coursechange.Attributes) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&userRow{ID: userID}).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
			return fmt.Errorf("failed to persist user: %w", err)
		}

		section := newSectionRow(id, attrs)
		if _, err := tx.NewInsert().Model(&section).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
			return fmt.Errorf("failed to persist section: %w", err)
		}

		var position int
		err := tx.NewSelect().Model((*trackingRow)(nil)).ColumnExpr("COALESCE(MAX(position), 0) + 1").Where("user_id = ?", userID).Scan(ctx, &position)
		if err != nil {
			return fmt.Errorf("failed to compute tracking position: %w", err)
		}

		subscription := trackingRow{UserID: userID, SectionID: string(id), Position: position}
		if _, err := tx.NewInsert().Model(&subscription).On("CONFLICT (user_id, section_id) DO NOTHING").Exec(ctx); err != nil {
			return fmt.Errorf("failed to persist subscription: %w", err)
		}

		return nil
	})
}

func (r PostgresRepository) UntrackSection(ctx context.Context, userID string, id coursechange.SectionID) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().Model((*trackingRow)(nil)).Where("user_id = ?", userID).Where("section_id = ?", string(id)).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete subscription: %w", err)
		}

		count, err := tx.NewSelect().Model((*trackingRow)(nil)).Where("section_id = ?", string(id)).Count(ctx)
		if err != nil {
			return fmt.Errorf("failed to count subscribers: %w", err)
		}

		if count == 0 {
			if _, err := tx.NewDelete().Model((*sectionRow)(nil)).Where("id = ?", string(id)).Exec(ctx); err != nil {
				return fmt.Errorf("failed to delete section: %w", err)
			}
			log.Info().Str("section", id.String()).Msg("section has no subscribers left, removed")
		}

		return nil
	})
}
