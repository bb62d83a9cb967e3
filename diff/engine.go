package diff

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	coursechange "github.com/jacobmichels/Course-Change-Notifier"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

const (
	DefaultConcurrency = 4
	DefaultTimeout     = 10 * time.Second
)

// Outcome of diffing a single section
type Outcome int

const (
	Unchanged Outcome = iota
	Changed
	NotFound
	Failed
	// Skipped sections were not started because the cycle was cancelled
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Changed:
		return "changed"
	case NotFound:
		return "not found"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type SectionResult struct {
	ID      coursechange.SectionID
	Outcome Outcome
	Changes []coursechange.ChangeRecord
	Err     error
}

type Result struct {
	Sections []SectionResult
	// Changes of every section, ordered by section id then field order
	Changes []coursechange.ChangeRecord
}

func (r Result) Count(o Outcome) int {
	n := 0
	for _, s := range r.Sections {
		if s.Outcome == o {
			n++
		}
	}

	return n
}

// SectionWriter persists the attributes of one section in a single write
type SectionWriter interface {
	SaveSectionAttributes(context.Context, coursechange.SectionID, coursechange.Attributes) error
}

// Engine re-fetches tracked sections from the catalog and records what changed
type Engine struct {
	catalog     coursechange.CatalogService
	store       SectionWriter
	concurrency int
	timeout     time.Duration
}

func NewEngine(c coursechange.CatalogService, s SectionWriter, concurrency int, timeout time.Duration) Engine {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return Engine{c, s, concurrency, timeout}
}

// Run diffs every section with bounded concurrency and returns once all of them are done.
// Failures are contained per section and reported in the result, never returned.
func (e Engine) Run(ctx context.Context, sections []coursechange.TrackedSection) Result {
	p := pool.NewWithResults[SectionResult]().WithMaxGoroutines(e.concurrency)
	for _, section := range sections {
		p.Go(func() SectionResult {
			return e.diffSection(ctx, section)
		})
	}

	results := p.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })

	var changes []coursechange.ChangeRecord
	for _, r := range results {
		changes = append(changes, r.Changes...)
	}

	return Result{Sections: results, Changes: changes}
}

func (e Engine) diffSection(ctx context.Context, section coursechange.TrackedSection) SectionResult {
	result := SectionResult{ID: section.ID}

	// sections are only started while the cycle is live
	if err := ctx.Err(); err != nil {
		result.Outcome = Skipped
		result.Err = err
		return result
	}

	fetchCtx, cancel := context.WithTimeout(ctx, e.timeout)
	fetched, err := e.catalog.FetchSection(fetchCtx, section.ID)
	cancel()
	if errors.Is(err, coursechange.ErrNotFound) {
		log.Info().Str("section", section.ID.String()).Msg("section no longer in catalog, skipping")
		result.Outcome = NotFound
		result.Err = err
		return result
	} else if err != nil {
		log.Error().Err(err).Str("section", section.ID.String()).Msg("failed to fetch section")
		result.Outcome = Failed
		result.Err = fmt.Errorf("failed to fetch %s: %w", section.ID, err)
		return result
	}

	if err := fetched.Valid(); err != nil {
		log.Error().Err(err).Str("section", section.ID.String()).Msg("catalog returned an incomplete section")
		result.Outcome = Failed
		result.Err = fmt.Errorf("invalid catalog data for %s: %w", section.ID, err)
		return result
	}

	d := Compare(section.ID, section.Attributes, fetched)
	if !d.Modified() {
		result.Outcome = Unchanged
		return result
	}

	for _, field := range d.Repaired {
		log.Warn().Err(coursechange.ErrDataInconsistency).Str("section", section.ID.String()).Str("field", string(field)).Msg("stored section was missing a field, repairing from catalog")
	}

	// a started section is always written out in full, even if the cycle is being cancelled
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()
	if err := e.store.SaveSectionAttributes(saveCtx, section.ID, d.Updated); err != nil {
		// nothing was persisted, so the same changes are detected again next cycle
		log.Error().Err(err).Str("section", section.ID.String()).Msg("failed to save section")
		result.Outcome = Failed
		result.Err = fmt.Errorf("failed to save %s: %w", section.ID, err)
		return result
	}

	for _, change := range d.Changes {
		log.Info().Str("section", section.ID.String()).Msg(change.String())
	}

	if len(d.Changes) == 0 {
		result.Outcome = Unchanged
		return result
	}

	result.Outcome = Changed
	result.Changes = d.Changes
	return result
}
