package coursechange

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Domain types are defined in this file

// SectionID identifies a course section as <department>/<number>/<section>, e.g. "C S/142/001"
type SectionID string

// Parts splits the id into department, course number and section number
func (id SectionID) Parts() (department, number, section string, err error) {
	parts := strings.Split(string(id), "/")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("section id %q must have the form department/number/section", string(id))
	}

	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			return "", "", "", fmt.Errorf("section id %q has an empty component", string(id))
		}
	}

	return parts[0], parts[1], parts[2], nil
}

func (id SectionID) Valid() error {
	_, _, _, err := id.Parts()
	return err
}

// Display renders the id the way it is listed in notification emails
func (id SectionID) Display() string {
	department, number, section, err := id.Parts()
	if err != nil {
		return string(id)
	}

	return fmt.Sprintf("%s %s   Sec: %s", department, number, section)
}

func (id SectionID) String() string {
	return string(id)
}

// Field names one comparable attribute of a section
type Field string

const (
	FieldRoom           Field = "room_num"
	FieldBuilding       Field = "building"
	FieldStartTime      Field = "start_time"
	FieldInstructorName Field = "instructor_name"
	FieldInstructorID   Field = "instructor_id"
	FieldDaysTaught     Field = "days_taught"
)

// Fields lists every required attribute, in comparison order
var Fields = []Field{
	FieldRoom,
	FieldBuilding,
	FieldStartTime,
	FieldInstructorName,
	FieldInstructorID,
	FieldDaysTaught,
}

// Attributes holds the metadata of a section keyed by field.
// Multi-value fields (several instructors or meeting times) are kept as one
// "/"-joined string and compared as a whole, so a reordering counts as a change.
type Attributes map[Field]string

// Missing returns the required fields that have no value at all
func (a Attributes) Missing() []Field {
	var missing []Field
	for _, field := range Fields {
		if _, ok := a[field]; !ok {
			missing = append(missing, field)
		}
	}

	return missing
}

func (a Attributes) Valid() error {
	if missing := a.Missing(); len(missing) > 0 {
		return fmt.Errorf("%w: missing fields %v", ErrDataInconsistency, missing)
	}

	return nil
}

func (a Attributes) Clone() Attributes {
	clone := make(Attributes, len(a))
	for k, v := range a {
		clone[k] = v
	}

	return clone
}

// A section being tracked by at least one user
type TrackedSection struct {
	ID          SectionID  `json:"id"`
	Attributes  Attributes `json:"attributes"`
	Subscribers []string   `json:"subscribers"`
}

// A user that receives notifications for the sections they track
type UserAccount struct {
	ID              string      `json:"id"`
	Email           string      `json:"email"`
	Name            string      `json:"name"`
	TrackedSections []SectionID `json:"trackedSections"`
}

func (u UserAccount) Valid() error {
	if u.ID == "" {
		return errors.New("User id cannot be empty")
	}
	if u.Email == "" {
		return errors.New("Email cannot be empty")
	}

	return nil
}

// ChangeRecord describes one field of one section whose value changed
type ChangeRecord struct {
	SectionID SectionID `json:"sectionID"`
	Field     Field     `json:"field"`
	OldValue  string    `json:"oldValue"`
	NewValue  string    `json:"newValue"`
}

func (c ChangeRecord) String() string {
	return fmt.Sprintf("%s: %s '%s' --> '%s'", c.SectionID, c.Field, c.OldValue, c.NewValue)
}

// An outbound plain-text email
type Message struct {
	To      string
	Subject string
	Body    string
}

// Service that looks up authoritative section data.
// FetchSection returns an error wrapping ErrNotFound when the section no longer exists.
type CatalogService interface {
	FetchSection(context.Context, SectionID) (Attributes, error)
}

// Read and write access to tracked sections
type SectionRepository interface {
	GetTrackedSections(context.Context) ([]TrackedSection, error)
	GetSection(context.Context, SectionID) (TrackedSection, error)
	SaveSectionAttributes(context.Context, SectionID, Attributes) error
}

// Lookup of subscriber contact details
type EmailLookup interface {
	GetSubscriberEmail(ctx context.Context, userID string) (string, error)
}

// Service that manages users and the sections they track
type UserRepository interface {
	EmailLookup
	AddUser(context.Context, UserAccount) error
	GetUser(ctx context.Context, userID string) (UserAccount, error)
	// TrackSection subscribes the user to the section, creating the section
	// with the given attributes if it is not stored yet.
	TrackSection(ctx context.Context, userID string, section SectionID, attributes Attributes) error
	// UntrackSection removes the subscription, and the section itself once it has no subscribers.
	UntrackSection(ctx context.Context, userID string, section SectionID) error
}

type Repository interface {
	SectionRepository
	UserRepository
	Close() error
}

// A type that can send a message to one recipient
type Notifier interface {
	Notify(context.Context, Message) error
}

// Service that runs one scan cycle
type TriggerService interface {
	Trigger(context.Context) (ScanReport, error)
}

// Service used by the onboarding and tracking flows
type TrackingService interface {
	RegisterUser(ctx context.Context, user UserAccount) error
	Track(ctx context.Context, userID string, section SectionID) (bool, error)
	Untrack(ctx context.Context, userID string, section SectionID) error
	UntrackAll(ctx context.Context, userID string) error
	Tracked(ctx context.Context, userID string) ([]TrackedSection, error)
}

// ScanReport summarizes one scan cycle
type ScanReport struct {
	Sections      int
	Changed       int
	NotFound      int
	Failed        int
	Changes       []ChangeRecord
	EmailsSent    int
	EmailsSkipped int
	EmailsFailed  int
}
