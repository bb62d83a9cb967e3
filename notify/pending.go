package notify

import (
	"sort"

	coursechange "github.com/jacobmichels/Course-Change-Notifier"
)

// Pending maps a user id to the set of sections that changed for them this cycle.
// A user appears at most once, and a section at most once per user.
type Pending map[string]map[coursechange.SectionID]struct{}

func (p Pending) Add(userID string, section coursechange.SectionID) {
	sections, ok := p[userID]
	if !ok {
		sections = map[coursechange.SectionID]struct{}{}
		p[userID] = sections
	}
	sections[section] = struct{}{}
}

// Users returns the affected user ids, sorted
func (p Pending) Users() []string {
	users := make([]string, 0, len(p))
	for user := range p {
		users = append(users, user)
	}
	sort.Strings(users)

	return users
}

// Sections returns the changed sections of one user, sorted
func (p Pending) Sections(userID string) []coursechange.SectionID {
	sections := make([]coursechange.SectionID, 0, len(p[userID]))
	for section := range p[userID] {
		sections = append(sections, section)
	}
	sort.Slice(sections, func(i, j int) bool { return sections[i] < sections[j] })

	return sections
}

// Aggregate unions every changed section into the pending set of each of its subscribers,
// however many fields of that section changed.
func Aggregate(changes []coursechange.ChangeRecord, subscribers map[coursechange.SectionID][]string) Pending {
	pending := Pending{}
	for _, change := range changes {
		for _, user := range subscribers[change.SectionID] {
			pending.Add(user, change.SectionID)
		}
	}

	return pending
}
