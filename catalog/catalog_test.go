package catalog_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	coursechange "github.com/jacobmichels/Course-Change-Notifier"
	"github.com/jacobmichels/Course-Change-Notifier/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sectionJSON = `{
  "CourseSectionService": {
    "response": {
      "course_section_instructor_set": [
        {"sort_name": "Smith, John", "net_id": "jsmith"},
        {"sort_name": "Doe, Jane", "net_id": "jdoe"}
      ],
      "course_section_schedule_set": [
        {"room": "1170", "building": "TMCB", "begin_time": "0900", "days_taught": "MWF"},
        {"room": "B092", "building": "JKB", "begin_time": "1400", "days_taught": "Th"}
      ]
    }
  }
}`

func TestFetchSection(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/20231/C S/142/001", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sectionJSON))
	}))
	defer srv.Close()

	svc := catalog.NewClassScheduleService(srv.URL+"/", "20231", "secret", time.Second)
	attrs, err := svc.FetchSection(t.Context(), "C S/142/001")
	require.NoError(t, err)

	assert.Equal(t, coursechange.Attributes{
		coursechange.FieldRoom:           "1170/B092/",
		coursechange.FieldBuilding:       "TMCB/JKB/",
		coursechange.FieldStartTime:      "0900/1400/",
		coursechange.FieldInstructorName: "Smith, John/Doe, Jane/",
		coursechange.FieldInstructorID:   "jsmith/jdoe/",
		coursechange.FieldDaysTaught:     "MWF/Th/",
	}, attrs)
	assert.NoError(t, attrs.Valid())
}

func TestFetchSectionErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "not found", status: http.StatusNotFound, wantErr: coursechange.ErrNotFound},
		{name: "server error", status: http.StatusBadGateway, wantErr: coursechange.ErrDependencyUnavailable},
		{name: "bad json", status: http.StatusOK, body: "{not json"},
		{name: "unauthorized", status: http.StatusUnauthorized, body: "token expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			svc := catalog.NewClassScheduleService(srv.URL, "20231", "", time.Second)
			_, err := svc.FetchSection(t.Context(), "C S/142/001")
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NotErrorIs(t, err, coursechange.ErrNotFound)
				assert.NotErrorIs(t, err, coursechange.ErrDependencyUnavailable)
			}
		})
	}
}

func TestFetchSectionUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	svc := catalog.NewClassScheduleService(url, "20231", "", time.Second)
	_, err := svc.FetchSection(t.Context(), "C S/142/001")
	assert.ErrorIs(t, err, coursechange.ErrDependencyUnavailable)
}

func TestFetchSectionInvalidID(t *testing.T) {
	t.Parallel()

	svc := catalog.NewClassScheduleService("http://127.0.0.1:1", "20231", "", time.Second)
	_, err := svc.FetchSection(t.Context(), "C S-142")
	assert.Error(t, err)
}

func TestFlattenEmptySets(t *testing.T) {
	t.Parallel()

	attrs := catalog.Flatten(catalog.CourseSectionResponse{})
	assert.NoError(t, attrs.Valid())
	assert.Equal(t, "", attrs[coursechange.FieldRoom])
}
