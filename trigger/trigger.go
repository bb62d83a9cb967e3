package trigger

import (
	"context"
	"fmt"

	coursechange "github.com/jacobmichels/Course-Change-Notifier"
	"github.com/jacobmichels/Course-Change-Notifier/diff"
	"github.com/jacobmichels/Course-Change-Notifier/notify"
	"github.com/rs/zerolog/log"
)

// Trigger implements TriggerService
var _ coursechange.TriggerService = Trigger{}

type Trigger struct {
	sections   coursechange.SectionRepository
	engine     diff.Engine
	aggregator notify.Aggregator
}

func NewTrigger(s coursechange.SectionRepository, e diff.Engine, a notify.Aggregator) Trigger {
	return Trigger{s, e, a}
}

// Trigger runs one scan cycle
func (t Trigger) Trigger(ctx context.Context) (coursechange.ScanReport, error) {
	// Trigger steps
	// 1. Load every tracked section with its stored attributes and subscribers
	// 2. Diff all of them against the catalog, persisting new values
	// 3. Only once every section is done, notify each affected subscriber once

	sections, err := t.sections.GetTrackedSections(ctx)
	if err != nil {
		return coursechange.ScanReport{}, fmt.Errorf("failed to get tracked sections: %w", err)
	}

	if len(sections) == 0 {
		log.Debug().Msg("No tracked sections")
		return coursechange.ScanReport{}, nil
	}

	result := t.engine.Run(ctx, sections)

	subscribers := make(map[coursechange.SectionID][]string, len(sections))
	for _, section := range sections {
		subscribers[section.ID] = section.Subscribers
	}

	notified := t.aggregator.Notify(ctx, result.Changes, subscribers)

	report := coursechange.ScanReport{
		Sections:      len(sections),
		Changed:       result.Count(diff.Changed),
		NotFound:      result.Count(diff.NotFound),
		Failed:        result.Count(diff.Failed),
		Changes:       result.Changes,
		EmailsSent:    notified.Sent,
		EmailsSkipped: notified.Skipped,
		EmailsFailed:  notified.Failed,
	}

	log.Info().
		Int("sections", report.Sections).
		Int("changed", report.Changed).
		Int("notFound", report.NotFound).
		Int("failed", report.Failed).
		Int("skipped", result.Count(diff.Skipped)).
		Int("emailsSent", report.EmailsSent).
		Int("emailsSkipped", report.EmailsSkipped).
		Int("emailsFailed", report.EmailsFailed).
		Msg("scan cycle complete")

	return report, nil
}
