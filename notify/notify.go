package notify

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	coursechange "github.com/jacobmichels/Course-Change-Notifier"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

const (
	Subject = "Course Change Notification"

	DefaultConcurrency = 4
	DefaultTimeout     = 15 * time.Second
)

// Compose builds the body of the email sent to one subscriber
func Compose(sections []coursechange.SectionID) string {
	var b strings.Builder
	b.WriteString("We have detected changes in the following courses: \n\n")
	for _, section := range sections {
		b.WriteString(section.Display())
		b.WriteString("\n")
	}
	b.WriteString("\n Review your schedule to make sure courses don't conflict!")

	return b.String()
}

type Report struct {
	Sent    int
	Skipped int
	Failed  int
	// Errors holds the reason every skipped or failed subscriber was not notified
	Errors map[string]error
}

type outcome struct {
	userID  string
	err     error
	skipped bool
}

// Aggregator sends one email per affected subscriber
type Aggregator struct {
	emails      coursechange.EmailLookup
	notifier    coursechange.Notifier
	concurrency int
	timeout     time.Duration
}

func NewAggregator(e coursechange.EmailLookup, n coursechange.Notifier, concurrency int, timeout time.Duration) Aggregator {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return Aggregator{e, n, concurrency, timeout}
}

// Notify groups the changes by subscriber and dispatches the emails
func (a Aggregator) Notify(ctx context.Context, changes []coursechange.ChangeRecord, subscribers map[coursechange.SectionID][]string) Report {
	return a.Dispatch(ctx, Aggregate(changes, subscribers))
}

// Dispatch emails every user in pending once. The changes behind pending are
// already persisted, so dispatch runs to completion even if ctx is cancelled.
func (a Aggregator) Dispatch(ctx context.Context, pending Pending) Report {
	ctx = context.WithoutCancel(ctx)

	p := pool.NewWithResults[outcome]().WithMaxGoroutines(a.concurrency)
	for _, user := range pending.Users() {
		sections := pending.Sections(user)
		p.Go(func() outcome {
			return a.send(ctx, user, sections)
		})
	}

	report := Report{Errors: map[string]error{}}
	for _, o := range p.Wait() {
		switch {
		case o.skipped:
			report.Skipped++
			report.Errors[o.userID] = o.err
		case o.err != nil:
			report.Failed++
			report.Errors[o.userID] = o.err
		default:
			report.Sent++
		}
	}

	return report
}

func (a Aggregator) send(ctx context.Context, userID string, sections []coursechange.SectionID) outcome {
	lookupCtx, cancel := context.WithTimeout(ctx, a.timeout)
	email, err := a.emails.GetSubscriberEmail(lookupCtx, userID)
	cancel()
	if err != nil {
		log.Warn().Err(err).Str("user", userID).Msg("failed to look up subscriber email, skipping")
		return outcome{userID: userID, err: err, skipped: !errors.Is(err, coursechange.ErrDependencyUnavailable)}
	}

	address, err := mail.ParseAddress(email)
	if err != nil {
		log.Warn().Err(err).Str("user", userID).Str("email", email).Msg("subscriber email is absent or malformed, skipping")
		return outcome{userID: userID, err: fmt.Errorf("invalid email %q: %w", email, coursechange.ErrDataInconsistency), skipped: true}
	}

	msg := coursechange.Message{
		To:      address.Address,
		Subject: Subject,
		Body:    Compose(sections),
	}

	sendCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if err := a.notifier.Notify(sendCtx, msg); err != nil {
		log.Error().Err(err).Str("user", userID).Msg("failed to send notification")
		return outcome{userID: userID, err: fmt.Errorf("failed to notify %s: %w", userID, errors.Join(coursechange.ErrDispatchFailure, err))}
	}

	log.Info().Str("user", userID).Int("sections", len(sections)).Msg("notification email sent")
	return outcome{userID: userID}
}
