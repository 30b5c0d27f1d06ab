package service

import (
	"context"

	"leadflow/internal/errors"

	"github.com/sirupsen/logrus"
)

// TagDatabaseService defines the database operations needed by TagApplier
type TagDatabaseService interface {
	AttachTags(ctx context.Context, tenantID int64, contactID string, tagIDs []int64) (int, error)
}

// TagApplier links a landing page's configured tags to a contact
type TagApplier struct {
	db     TagDatabaseService
	logger *logrus.Logger
}

func NewTagApplier(db TagDatabaseService, logger *logrus.Logger) *TagApplier {
	return &TagApplier{db: db, logger: logger}
}

// Apply links tagIDs to the contact, skipping links that already exist.
// It returns how many links were added.
func (a *TagApplier) Apply(ctx context.Context, tenantID int64, contactID string, tagIDs []int64) (int, error) {
	if len(tagIDs) == 0 {
		return 0, nil
	}
	added, err := a.db.AttachTags(ctx, tenantID, contactID, dedupeIDs(tagIDs))
	if err != nil {
		return 0, errors.NewDatabaseError("attach tags", err).
			WithContext(LogFieldContactID, contactID)
	}
	a.logger.WithFields(logrus.Fields{
		LogFieldTenantID:  tenantID,
		LogFieldContactID: contactID,
		LogFieldCount:     added,
	}).Debug("Applied contact tags")
	return added, nil
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
