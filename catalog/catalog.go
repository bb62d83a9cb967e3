package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	coursechange "github.com/jacobmichels/Course-Change-Notifier"
)

var _ coursechange.CatalogService = ClassScheduleService{}

// ClassScheduleService looks sections up in the university class schedule API
type ClassScheduleService struct {
	http    *http.Client
	baseURL string
	term    string
	token   string
}

func NewClassScheduleService(baseURL, term, token string, timeout time.Duration) ClassScheduleService {
	client := &http.Client{
		Timeout: timeout,
	}

	return ClassScheduleService{client, strings.TrimRight(baseURL, "/"), term, token}
}

type CourseSectionResponse struct {
	CourseSectionService struct {
		Response struct {
			InstructorSet []Instructor `json:"course_section_instructor_set"`
			ScheduleSet   []Schedule   `json:"course_section_schedule_set"`
		} `json:"response"`
	} `json:"CourseSectionService"`
}

type Instructor struct {
	SortName string `json:"sort_name"`
	NetID    string `json:"net_id"`
}

type Schedule struct {
	Room       string `json:"room"`
	Building   string `json:"building"`
	BeginTime  string `json:"begin_time"`
	DaysTaught string `json:"days_taught"`
}

func (c ClassScheduleService) FetchSection(ctx context.Context, id coursechange.SectionID) (coursechange.Attributes, error) {
	department, number, section, err := id.Parts()
	if err != nil {
		return nil, err
	}

	// department codes contain spaces ("C S", "REL A"), so every segment is escaped
	endpoint := fmt.Sprintf("%s/%s/%s/%s/%s", c.baseURL, url.PathEscape(c.term), url.PathEscape(department), url.PathEscape(number), url.PathEscape(section))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach catalog: %w", errors.Join(coursechange.ErrDependencyUnavailable, err))
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("section %s: %w", id, coursechange.ErrNotFound)
	case res.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("catalog responded %d: %w", res.StatusCode, coursechange.ErrDependencyUnavailable)
	case res.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, fmt.Errorf("unexpected catalog response %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var sectionResponse CourseSectionResponse
	if err := sonic.ConfigDefault.NewDecoder(res.Body).Decode(&sectionResponse); err != nil {
		return nil, fmt.Errorf("failed to decode json: %w", err)
	}

	return Flatten(sectionResponse), nil
}

// Flatten turns the instructor and schedule sets into one value per field,
// every entry followed by a "/" ("Smith, John/Doe, Jane/").
func Flatten(r CourseSectionResponse) coursechange.Attributes {
	var names, netIDs strings.Builder
	for _, instructor := range r.CourseSectionService.Response.InstructorSet {
		names.WriteString(instructor.SortName + "/")
		netIDs.WriteString(instructor.NetID + "/")
	}

	var rooms, buildings, starts, days strings.Builder
	for _, schedule := range r.CourseSectionService.Response.ScheduleSet {
		rooms.WriteString(schedule.Room + "/")
		buildings.WriteString(schedule.Building + "/")
		starts.WriteString(schedule.BeginTime + "/")
		days.WriteString(schedule.DaysTaught + "/")
	}

	return coursechange.Attributes{
		coursechange.FieldRoom:           rooms.String(),
		coursechange.FieldBuilding:       buildings.String(),
		coursechange.FieldStartTime:      starts.String(),
		coursechange.FieldInstructorName: names.String(),
		coursechange.FieldInstructorID:   netIDs.String(),
		coursechange.FieldDaysTaught:     days.String(),
	}
}
