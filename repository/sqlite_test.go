package repository_test

import (
	"testing"

	coursechange "github.com/jacobmichels/Course-Change-Notifier"
	"github.com/jacobmichels/Course-Change-Notifier/config"
	"github.com/jacobmichels/Course-Change-Notifier/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) repository.SQLiteRepository {
	t.Helper()

	repo, err := repository.NewSQLiteRepository(t.Context(), config.SQLite{ConnectionString: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	return repo
}

func attributes(room string) coursechange.Attributes {
	return coursechange.Attributes{
		coursechange.FieldRoom:           room,
		coursechange.FieldBuilding:       "TMCB",
		coursechange.FieldStartTime:      "0900/",
		coursechange.FieldInstructorName: "Smith, John/",
		coursechange.FieldInstructorID:   "jsmith/",
		coursechange.FieldDaysTaught:     "MWF/",
	}
}

func TestSQLiteTrackSection(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t)
	ctx := t.Context()

	require.NoError(t, repo.TrackSection(ctx, "u1", "C S/142/001", attributes("1170/")))
	require.NoError(t, repo.TrackSection(ctx, "u1", "MATH/112/002", attributes("B092/")))
	// a second subscriber must not overwrite what is stored
	require.NoError(t, repo.TrackSection(ctx, "u2", "C S/142/001", attributes("9999/")))
	// tracking twice is a no-op
	require.NoError(t, repo.TrackSection(ctx, "u1", "C S/142/001", attributes("1170/")))

	section, err := repo.GetSection(ctx, "C S/142/001")
	require.NoError(t, err)
	assert.Equal(t, attributes("1170/"), section.Attributes)
	assert.Equal(t, []string{"u1", "u2"}, section.Subscribers)

	user, err := repo.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []coursechange.SectionID{"C S/142/001", "MATH/112/002"}, user.TrackedSections)
	assert.Empty(t, user.Email)

	sections, err := repo.GetTrackedSections(ctx)
	require.NoError(t, err)
	require.Len(t, sections, 2)
	assert.Equal(t, coursechange.SectionID("C S/142/001"), sections[0].ID)
	assert.Equal(t, []string{"u1", "u2"}, sections[0].Subscribers)
	assert.Equal(t, coursechange.SectionID("MATH/112/002"), sections[1].ID)
	assert.Equal(t, []string{"u1"}, sections[1].Subscribers)
}

func TestSQLiteSaveSectionAttributes(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t)
	ctx := t.Context()

	require.NoError(t, repo.TrackSection(ctx, "u1", "C S/142/001", attributes("1170/")))
	require.NoError(t, repo.SaveSectionAttributes(ctx, "C S/142/001", attributes("B092/")))

	section, err := repo.GetSection(ctx, "C S/142/001")
	require.NoError(t, err)
	assert.Equal(t, "B092/", section.Attributes[coursechange.FieldRoom])

	err = repo.SaveSectionAttributes(ctx, "MATH/112/002", attributes("B092/"))
	assert.ErrorIs(t, err, coursechange.ErrNotFound)
}

func TestSQLiteMissingColumnsAreMissingFields(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t)
	ctx := t.Context()

	partial := attributes("1170/")
	delete(partial, coursechange.FieldBuilding)
	require.NoError(t, repo.TrackSection(ctx, "u1", "C S/142/001", partial))

	section, err := repo.GetSection(ctx, "C S/142/001")
	require.NoError(t, err)
	assert.Equal(t, []coursechange.Field{coursechange.FieldBuilding}, section.Attributes.Missing())

	// an empty value is still a value
	partial[coursechange.FieldBuilding] = ""
	require.NoError(t, repo.SaveSectionAttributes(ctx, "C S/142/001", partial))
	section, err = repo.GetSection(ctx, "C S/142/001")
	require.NoError(t, err)
	assert.Empty(t, section.Attributes.Missing())
}

func TestSQLiteUntrackSection(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t)
	ctx := t.Context()

	require.NoError(t, repo.TrackSection(ctx, "u1", "C S/142/001", attributes("1170/")))
	require.NoError(t, repo.TrackSection(ctx, "u2", "C S/142/001", attributes("1170/")))

	require.NoError(t, repo.UntrackSection(ctx, "u1", "C S/142/001"))
	section, err := repo.GetSection(ctx, "C S/142/001")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, section.Subscribers)

	// the last subscriber leaving removes the section
	require.NoError(t, repo.UntrackSection(ctx, "u2", "C S/142/001"))
	_, err = repo.GetSection(ctx, "C S/142/001")
	assert.ErrorIs(t, err, coursechange.ErrNotFound)

	sections, err := repo.GetTrackedSections(ctx)
	require.NoError(t, err)
	assert.Empty(t, sections)

	// untracking something not tracked is not an error
	assert.NoError(t, repo.UntrackSection(ctx, "u2", "C S/142/001"))
}

func TestSQLiteUsers(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t)
	ctx := t.Context()

	_, err := repo.GetSubscriberEmail(ctx, "u1")
	assert.ErrorIs(t, err, coursechange.ErrNotFound)
	_, err = repo.GetUser(ctx, "u1")
	assert.ErrorIs(t, err, coursechange.ErrNotFound)

	require.NoError(t, repo.TrackSection(ctx, "u1", "C S/142/001", attributes("1170/")))
	email, err := repo.GetSubscriberEmail(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, email)

	require.NoError(t, repo.AddUser(ctx, coursechange.UserAccount{ID: "u1", Email: "x@example.com", Name: "X"}))
	email, err = repo.GetSubscriberEmail(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "x@example.com", email)

	// registering again updates the email and keeps tracked sections
	require.NoError(t, repo.AddUser(ctx, coursechange.UserAccount{ID: "u1", Email: "y@example.com", Name: "X"}))
	user, err := repo.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, coursechange.UserAccount{
		ID:              "u1",
		Email:           "y@example.com",
		Name:            "X",
		TrackedSections: []coursechange.SectionID{"C S/142/001"},
	}, user)
}
