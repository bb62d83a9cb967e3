package register

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"slices"

	coursechange "github.com/jacobmichels/Course-Change-Notifier"
	"github.com/rs/zerolog/log"
)

// Register implements TrackingService
var _ coursechange.TrackingService = Register{}

type Register struct {
	catalog  coursechange.CatalogService
	users    coursechange.UserRepository
	sections coursechange.SectionRepository
}

func NewRegister(c coursechange.CatalogService, u coursechange.UserRepository, s coursechange.SectionRepository) Register {
	return Register{c, u, s}
}

// RegisterUser stores the user's contact email, replacing any previous one
func (r Register) RegisterUser(ctx context.Context, user coursechange.UserAccount) error {
	if err := user.Valid(); err != nil {
		return err
	}

	address, err := mail.ParseAddress(user.Email)
	if err != nil {
		return fmt.Errorf("invalid email %q: %w", user.Email, err)
	}
	user.Email = address.Address

	if err := r.users.AddUser(ctx, user); err != nil {
		return fmt.Errorf("failed to persist user %s: %w", user.ID, err)
	}

	return nil
}

// Track subscribes the user to the section.
// It reports false when the user already tracked the section.
func (r Register) Track(ctx context.Context, userID string, id coursechange.SectionID) (bool, error) {
	// Tracking steps
	// 1. Skip sections the user already tracks
	// 2. Ensure the section exists in the catalog
	// 3. Persist the subscription, seeding the section with the catalog's current data
	if err := id.Valid(); err != nil {
		return false, err
	}

	user, err := r.users.GetUser(ctx, userID)
	if err != nil && !errors.Is(err, coursechange.ErrNotFound) {
		return false, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	if slices.Contains(user.TrackedSections, id) {
		return false, nil
	}

	attrs, err := r.catalog.FetchSection(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to check if section %s exists: %w", id, err)
	}

	if err := r.users.TrackSection(ctx, userID, id, attrs); err != nil {
		return false, fmt.Errorf("failed to persist %s tracking %s: %w", userID, id, err)
	}

	log.Info().Str("user", userID).Str("section", id.String()).Msg("section tracked")
	return true, nil
}

func (r Register) Untrack(ctx context.Context, userID string, id coursechange.SectionID) error {
	if err := id.Valid(); err != nil {
		return err
	}

	if err := r.users.UntrackSection(ctx, userID, id); err != nil {
		return fmt.Errorf("failed to untrack %s for %s: %w", id, userID, err)
	}

	log.Info().Str("user", userID).Str("section", id.String()).Msg("section untracked")
	return nil
}

func (r Register) UntrackAll(ctx context.Context, userID string) error {
	user, err := r.users.GetUser(ctx, userID)
	if errors.Is(err, coursechange.ErrNotFound) {
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to get user %s: %w", userID, err)
	}

	for _, id := range user.TrackedSections {
		if err := r.users.UntrackSection(ctx, userID, id); err != nil {
			return fmt.Errorf("failed to untrack %s for %s: %w", id, userID, err)
		}
	}

	log.Info().Str("user", userID).Int("sections", len(user.TrackedSections)).Msg("all sections untracked")
	return nil
}

// Tracked lists the user's sections in the order they were tracked.
// Other subscribers are not included.
func (r Register) Tracked(ctx context.Context, userID string) ([]coursechange.TrackedSection, error) {
	user, err := r.users.GetUser(ctx, userID)
	if errors.Is(err, coursechange.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}

	sections := make([]coursechange.TrackedSection, 0, len(user.TrackedSections))
	for _, id := range user.TrackedSections {
		section, err := r.sections.GetSection(ctx, id)
		if errors.Is(err, coursechange.ErrNotFound) {
			log.Warn().Str("user", userID).Str("section", id.String()).Msg("tracked section is not stored, skipping")
			continue
		} else if err != nil {
			return nil, fmt.Errorf("failed to get section %s: %w", id, err)
		}

		section.Subscribers = nil
		sections = append(sections, section)
	}

	return sections, nil
}
