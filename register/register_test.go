package register_test

import (
	"context"
	"fmt"
	"testing"

	coursechange "github.com/jacobmichels/Course-Change-Notifier"
	"github.com/jacobmichels/Course-Change-Notifier/config"
	"github.com/jacobmichels/Course-Change-Notifier/register"
	"github.com/jacobmichels/Course-Change-Notifier/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCatalog map[coursechange.SectionID]coursechange.Attributes

func (c stubCatalog) FetchSection(_ context.Context, id coursechange.SectionID) (coursechange.Attributes, error) {
	attrs, ok := c[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, coursechange.ErrNotFound)
	}

	return attrs.Clone(), nil
}

var catalog = stubCatalog{
	"C S/142/001": {
		coursechange.FieldRoom:           "1170/",
		coursechange.FieldBuilding:       "TMCB/",
		coursechange.FieldStartTime:      "0900/",
		coursechange.FieldInstructorName: "Smith, John/",
		coursechange.FieldInstructorID:   "jsmith/",
		coursechange.FieldDaysTaught:     "MWF/",
	},
	"MATH/112/002": {
		coursechange.FieldRoom:           "B092/",
		coursechange.FieldBuilding:       "JKB/",
		coursechange.FieldStartTime:      "1400/",
		coursechange.FieldInstructorName: "Doe, Jane/",
		coursechange.FieldInstructorID:   "jdoe/",
		coursechange.FieldDaysTaught:     "TTh/",
	},
}

func newRegister(t *testing.T) (register.Register, repository.SQLiteRepository) {
	t.Helper()

	repo, err := repository.NewSQLiteRepository(t.Context(), config.SQLite{ConnectionString: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	return register.NewRegister(catalog, repo, repo), repo
}

func TestRegisterUser(t *testing.T) {
	t.Parallel()

	r, repo := newRegister(t)
	ctx := t.Context()

	require.NoError(t, r.RegisterUser(ctx, coursechange.UserAccount{ID: "u1", Email: "Jane Doe <jane@example.com>"}))
	email, err := repo.GetSubscriberEmail(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", email)

	tests := []struct {
		name string
		user coursechange.UserAccount
	}{
		{"no id", coursechange.UserAccount{Email: "jane@example.com"}},
		{"no email", coursechange.UserAccount{ID: "u2"}},
		{"malformed email", coursechange.UserAccount{ID: "u2", Email: "not-an-email"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, r.RegisterUser(ctx, tt.user))
		})
	}
}

func TestTrack(t *testing.T) {
	t.Parallel()

	r, repo := newRegister(t)
	ctx := t.Context()

	added, err := r.Track(ctx, "u1", "C S/142/001")
	require.NoError(t, err)
	assert.True(t, added)

	// already registered
	added, err = r.Track(ctx, "u1", "C S/142/001")
	require.NoError(t, err)
	assert.False(t, added)

	section, err := repo.GetSection(ctx, "C S/142/001")
	require.NoError(t, err)
	assert.Equal(t, catalog["C S/142/001"], section.Attributes)
	assert.Equal(t, []string{"u1"}, section.Subscribers)

	_, err = r.Track(ctx, "u1", "HIST/201/001")
	assert.ErrorIs(t, err, coursechange.ErrNotFound)

	_, err = r.Track(ctx, "u1", "HIST-201")
	assert.Error(t, err)
}

func TestTrackedAndUntrack(t *testing.T) {
	t.Parallel()

	r, repo := newRegister(t)
	ctx := t.Context()

	tracked, err := r.Tracked(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, tracked)

	for _, id := range []coursechange.SectionID{"MATH/112/002", "C S/142/001"} {
		_, err := r.Track(ctx, "u1", id)
		require.NoError(t, err)
	}
	_, err = r.Track(ctx, "u2", "C S/142/001")
	require.NoError(t, err)

	tracked, err = r.Tracked(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, tracked, 2)
	assert.Equal(t, coursechange.SectionID("MATH/112/002"), tracked[0].ID)
	assert.Equal(t, coursechange.SectionID("C S/142/001"), tracked[1].ID)
	assert.Nil(t, tracked[1].Subscribers)

	require.NoError(t, r.Untrack(ctx, "u1", "MATH/112/002"))
	_, err = repo.GetSection(ctx, "MATH/112/002")
	assert.ErrorIs(t, err, coursechange.ErrNotFound)

	require.NoError(t, r.UntrackAll(ctx, "u1"))
	tracked, err = r.Tracked(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, tracked)

	// still tracked by u2
	section, err := repo.GetSection(ctx, "C S/142/001")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, section.Subscribers)

	assert.NoError(t, r.UntrackAll(ctx, "nobody"))
}
