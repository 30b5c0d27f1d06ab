package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"leadflow/internal/constants"
	"leadflow/internal/errors"
	"leadflow/internal/models"
	"leadflow/pkg/whatsapp/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContactDatabaseService defines the database operations needed by ContactRegistry
type ContactDatabaseService interface {
	UpsertContact(ctx context.Context, contact *models.Contact) (*models.Contact, error)
	UpdateContactProfilePicture(ctx context.Context, contactID, url string) error
}

// ContactInput is everything known about a person when a run reaches them
type ContactInput struct {
	TenantID        int64
	CanonicalNumber string
	ChatID          string
	Name            string
	Email           string
	ConnectionID    int64
	ExtraFields     map[string]string
}

// ContactRegistry materializes contacts with upsert semantics
type ContactRegistry struct {
	db             ContactDatabaseService
	pictureTimeout time.Duration
	logger         *logrus.Logger
	refreshes      sync.WaitGroup
}

// NewContactRegistry creates a registry. pictureTimeout bounds each
// background profile picture refresh.
func NewContactRegistry(db ContactDatabaseService, pictureTimeout time.Duration, logger *logrus.Logger) *ContactRegistry {
	if pictureTimeout <= 0 {
		pictureTimeout = time.Duration(constants.DefaultProfilePictureTimeoutSec) * time.Second
	}
	return &ContactRegistry{
		db:             db,
		pictureTimeout: pictureTimeout,
		logger:         logger,
	}
}

// CreateOrUpdate upserts the contact for (tenant, number), merging the non-empty
// fields of in. When a session is given a profile picture refresh is started in
// the background; it never affects the returned contact.
func (r *ContactRegistry) CreateOrUpdate(ctx context.Context, session types.Session, in ContactInput) (*models.Contact, error) {
	if in.CanonicalNumber == "" {
		return nil, errors.NewValidationError("number", "canonical number is required")
	}

	contact := &models.Contact{
		ID:              uuid.NewString(),
		TenantID:        in.TenantID,
		CanonicalNumber: in.CanonicalNumber,
		Name:            strings.TrimSpace(in.Name),
		Email:           strings.TrimSpace(in.Email),
		ConnectionID:    in.ConnectionID,
		ExtraFields:     extraFields(in.ExtraFields),
	}

	stored, err := r.db.UpsertContact(ctx, contact)
	if err != nil {
		return nil, errors.NewDatabaseError("upsert contact", err).
			WithContext(LogFieldTenantID, in.TenantID)
	}

	if session != nil && in.ChatID != "" {
		r.refreshProfilePicture(ctx, session, stored.ID, in.ChatID)
	}
	return stored, nil
}

// Wait blocks until in-flight profile picture refreshes finish
func (r *ContactRegistry) Wait() {
	r.refreshes.Wait()
}

func (r *ContactRegistry) refreshProfilePicture(ctx context.Context, session types.Session, contactID, chatID string) {
	r.refreshes.Add(1)
	go func() {
		defer r.refreshes.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.WithField("panic", rec).Error("Profile picture refresh panicked")
			}
		}()

		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.pictureTimeout)
		defer cancel()

		log := r.logger.WithFields(logrus.Fields{
			LogFieldContactID: contactID,
			LogFieldChatID:    SanitizeChatID(ctx, chatID),
		})

		url, err := session.GetProfilePicture(refreshCtx, chatID)
		if err != nil {
			log.WithError(err).Debug("Skipping profile picture refresh: lookup failed")
			return
		}
		if url == "" {
			return
		}
		if err := r.db.UpdateContactProfilePicture(refreshCtx, contactID, url); err != nil {
			log.WithError(err).Warn("Failed to store profile picture")
		}
	}()
}

func extraFields(fields map[string]string) []models.ExtraField {
	if len(fields) == 0 {
		return nil
	}
	out := make([]models.ExtraField, 0, len(fields))
	for name, value := range fields {
		if models.IsStandardField(name) || strings.TrimSpace(value) == "" {
			continue
		}
		out = append(out, models.ExtraField{Name: name, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
