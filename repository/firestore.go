package repository

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"

	"cloud.google.com/go/firestore"
	coursechange "github.com/jacobmichels/Course-Change-Notifier"
	"github.com/jacobmichels/Course-Change-Notifier/config"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

var _ coursechange.Repository = FirestoreRepository{}

type FirestoreRepository struct {
	firestore *firestore.Client
	cfg       config.Firestore
}

type sectionDocument struct {
	ID          string            `firestore:"id"`
	Attributes  map[string]string `firestore:"attributes"`
	Subscribers []string          `firestore:"subscribers"`
}

type userDocument struct {
	Email    string   `firestore:"email"`
	Name     string   `firestore:"name"`
	Sections []string `firestore:"sections"`
}

func NewFirestoreRepository(ctx context.Context, cfg config.Firestore) (FirestoreRepository, error) {
	var opts []option.ClientOption
	// application default credentials are used when no file is supplied
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return FirestoreRepository{}, fmt.Errorf("failed to create firestore client: %w", err)
	}

	return FirestoreRepository{client, cfg}, nil
}

func (f FirestoreRepository) Close() error {
	return f.firestore.Close()
}

// section ids contain "/", which firestore reserves as a path separator
func documentID(id coursechange.SectionID) string {
	return url.PathEscape(string(id))
}

func (f FirestoreRepository) sectionRef(id coursechange.SectionID) *firestore.DocumentRef {
	return f.firestore.Collection(f.cfg.SectionCollectionID).Doc(documentID(id))
}

func (f FirestoreRepository) userRef(userID string) *firestore.DocumentRef {
	return f.firestore.Collection(f.cfg.UserCollectionID).Doc(userID)
}

func toDocumentAttributes(attrs coursechange.Attributes) map[string]string {
	m := make(map[string]string, len(attrs))
	for field, value := range attrs {
		m[string(field)] = value
	}

	return m
}

func (d sectionDocument) section() coursechange.TrackedSection {
	attrs := make(coursechange.Attributes, len(d.Attributes))
	for field, value := range d.Attributes {
		attrs[coursechange.Field(field)] = value
	}

	subscribers := append([]string(nil), d.Subscribers...)
	sort.Strings(subscribers)

	return coursechange.TrackedSection{ID: coursechange.SectionID(d.ID), Attributes: attrs, Subscribers: subscribers}
}

func (f FirestoreRepository) GetTrackedSections(ctx context.Context) ([]coursechange.TrackedSection, error) {
	documents, err := f.firestore.Collection(f.cfg.SectionCollectionID).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to get all documents in sections collection: %w", errors.Join(coursechange.ErrDependencyUnavailable, err))
	}

	var results []coursechange.TrackedSection
	for _, document := range documents {
		var doc sectionDocument
		if err = document.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("failed to deserialize document %s: %w", document.Ref.ID, err)
		}

		results = append(results, doc.section())
	}

	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })

	return results, nil
}

func (f FirestoreRepository) GetSection(ctx context.Context, id coursechange.SectionID) (coursechange.TrackedSection, error) {
	snapshot, err := f.sectionRef(id).Get(ctx)
	if snapshot != nil && !snapshot.Exists() {
		return coursechange.TrackedSection{}, fmt.Errorf("section %s: %w", id, coursechange.ErrNotFound)
	} else if err != nil {
		return coursechange.TrackedSection{}, fmt.Errorf("failed to get section document: %w", err)
	}

	var doc sectionDocument
	if err = snapshot.DataTo(&doc); err != nil {
		return coursechange.TrackedSection{}, fmt.Errorf("failed to deserialize document: %w", err)
	}

	return doc.section(), nil
}

func (f FirestoreRepository) SaveSectionAttributes(ctx context.Context, id coursechange.SectionID, attrs coursechange.Attributes) error {
	_, err := f.sectionRef(id).Update(ctx, []firestore.Update{{Path: "attributes", Value: toDocumentAttributes(attrs)}})
	if err != nil {
		return fmt.Errorf("failed to update section %s: %w", id, errors.Join(coursechange.ErrDependencyUnavailable, err))
	}

	return nil
}

func (f FirestoreRepository) getUserDocument(ctx context.Context, userID string) (userDocument, error) {
	snapshot, err := f.userRef(userID).Get(ctx)
	if snapshot != nil && !snapshot.Exists() {
		return userDocument{}, fmt.Errorf("user %s: %w", userID, coursechange.ErrNotFound)
	} else if err != nil {
		return userDocument{}, fmt.Errorf("failed to get user document: %w", errors.Join(coursechange.ErrDependencyUnavailable, err))
	}

	var doc userDocument
	if err = snapshot.DataTo(&doc); err != nil {
		return userDocument{}, fmt.Errorf("failed to deserialize document: %w", err)
	}

	return doc, nil
}

func (f FirestoreRepository) GetSubscriberEmail(ctx context.Context, userID string) (string, error) {
	doc, err := f.getUserDocument(ctx, userID)
	if err != nil {
		return "", err
	}

	return doc.Email, nil
}

func (f FirestoreRepository) AddUser(ctx context.Context, user coursechange.UserAccount) error {
	_, err := f.userRef(user.ID).Set(ctx, map[string]interface{}{
		"email": user.Email,
		"name":  user.Name,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to write user %s: %w", user.ID, err)
	}

	return nil
}

func (f FirestoreRepository) GetUser(ctx context.Context, userID string) (coursechange.UserAccount, error) {
	doc, err := f.getUserDocument(ctx, userID)
	if err != nil {
		return coursechange.UserAccount{}, err
	}

	user := coursechange.UserAccount{ID: userID, Email: doc.Email, Name: doc.Name}
	for _, id := range doc.Sections {
		user.TrackedSections = append(user.TrackedSections, coursechange.SectionID(id))
	}

	return user, nil
}

func (f FirestoreRepository) TrackSection(ctx context.Context, userID string, id coursechange.SectionID, attrs coursechange.Attributes) error {
	// Steps:
	// 1. Retrieve the section document, creating it with the catalog attributes if it doesn't exist
	// 2. Add the user to the section's subscribers
	// 3. Append the section to the user's tracked list
	sectionRef := f.sectionRef(id)
	userRef := f.userRef(userID)

	err := f.firestore.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snapshot, err := tx.Get(sectionRef)
		if err != nil && (snapshot == nil || snapshot.Exists()) {
			return fmt.Errorf("failed to get section document: %w", err)
		}

		if snapshot.Exists() {
			err = tx.Update(sectionRef, []firestore.Update{{Path: "subscribers", Value: firestore.ArrayUnion(userID)}})
		} else {
			err = tx.Create(sectionRef, sectionDocument{
				ID:          string(id),
				Attributes:  toDocumentAttributes(attrs),
				Subscribers: []string{userID},
			})
		}
		if err != nil {
			return fmt.Errorf("failed to write section document: %w", err)
		}

		// ArrayUnion leaves existing entries in place, so tracking twice keeps the original order
		return tx.Set(userRef, map[string]interface{}{"sections": firestore.ArrayUnion(string(id))}, firestore.MergeAll)
	})
	if err != nil {
		return fmt.Errorf("failed to track %s for %s: %w", id, userID, err)
	}

	return nil
}

func (f FirestoreRepository) UntrackSection(ctx context.Context, userID string, id coursechange.SectionID) error {
	sectionRef := f.sectionRef(id)
	userRef := f.userRef(userID)

	removed := false
	err := f.firestore.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		removed = false

		snapshot, err := tx.Get(sectionRef)
		if err != nil && (snapshot == nil || snapshot.Exists()) {
			return fmt.Errorf("failed to get section document: %w", err)
		}

		if snapshot.Exists() {
			var doc sectionDocument
			if err := snapshot.DataTo(&doc); err != nil {
				return fmt.Errorf("failed to deserialize document: %w", err)
			}

			remaining := 0
			for _, subscriber := range doc.Subscribers {
				if subscriber != userID {
					remaining++
				}
			}

			if remaining == 0 {
				err = tx.Delete(sectionRef)
				removed = true
			} else {
				err = tx.Update(sectionRef, []firestore.Update{{Path: "subscribers", Value: firestore.ArrayRemove(userID)}})
			}
			if err != nil {
				return fmt.Errorf("failed to write section document: %w", err)
			}
		}

		return tx.Set(userRef, map[string]interface{}{"sections": firestore.ArrayRemove(string(id))}, firestore.MergeAll)
	})
	if err != nil {
		return fmt.Errorf("failed to untrack %s for %s: %w", id, userID, err)
	}

	if removed {
		log.Info().Str("section", id.String()).Msg("section has no subscribers left, removed")
	}

	return nil
}
