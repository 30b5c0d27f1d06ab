package service

import (
	"context"
	"fmt"

	"leadflow/internal/errors"
	"leadflow/internal/models"
	"leadflow/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

// GroupDatabaseService defines the database operations needed by GroupService
type GroupDatabaseService interface {
	GetGroup(ctx context.Context, tenantID, connectionID, groupID int64) (*models.Group, error)
	ListSeriesGroups(ctx context.Context, tenantID, connectionID, seriesID int64) ([]models.Group, error)
	UpdateGroupParticipantCount(ctx context.Context, groupID int64, count int) error
}

// GroupService finds invite targets and fetches their invite links
type GroupService struct {
	db     GroupDatabaseService
	logger *errors.Logger
}

// NewGroupService creates a new group service instance
func NewGroupService(db GroupDatabaseService, logger *logrus.Logger) *GroupService {
	return &GroupService{
		db:     db,
		logger: errors.WrapLogger(logger),
	}
}

// FindGroup returns the tenant's group on the connection, or nil when it does not exist
func (gs *GroupService) FindGroup(ctx context.Context, tenantID, connectionID, groupID int64) (*models.Group, error) {
	group, err := gs.db.GetGroup(ctx, tenantID, connectionID, groupID)
	if err != nil {
		return nil, errors.NewDatabaseError("get group", err)
	}
	return group, nil
}

// ActiveSeriesGroup picks the first group of the series with spare capacity,
// refreshing participant counts from the gateway when a session is given. When
// every group is full the last one is returned. Nil means the series has no
// groups on this connection.
func (gs *GroupService) ActiveSeriesGroup(ctx context.Context, session types.Session, tenantID, connectionID, seriesID int64) (*models.Group, error) {
	groups, err := gs.db.ListSeriesGroups(ctx, tenantID, connectionID, seriesID)
	if err != nil {
		return nil, errors.NewDatabaseError("list series groups", err)
	}
	if len(groups) == 0 {
		return nil, nil
	}

	for i := range groups {
		group := &groups[i]
		if session != nil {
			gs.refreshParticipantCount(ctx, session, group)
		}
		if group.HasCapacity() {
			return group, nil
		}
	}

	last := &groups[len(groups)-1]
	gs.logger.WithContext(logrus.Fields{
		LogFieldTenantID: tenantID,
		"series_id":      seriesID,
		LogFieldGroupID:  last.ID,
	}).Warn("Every group in the series is full, using the last one")
	return last, nil
}

func (gs *GroupService) refreshParticipantCount(ctx context.Context, session types.Session, group *models.Group) {
	info, err := session.GetGroup(ctx, group.GatewayGroupID)
	if err != nil {
		gs.logger.LogWarn(err, "Failed to refresh group participants, using stored count", logrus.Fields{
			LogFieldGroupID: group.ID,
		})
		return
	}
	count := len(info.Participants)
	if count == group.ParticipantCount {
		return
	}
	group.ParticipantCount = count
	if err := gs.db.UpdateGroupParticipantCount(ctx, group.ID, count); err != nil {
		gs.logger.LogWarn(err, "Failed to store group participant count", logrus.Fields{
			LogFieldGroupID: group.ID,
		})
	}
}

// InviteLink fetches a fresh invite link for group from the gateway
func (gs *GroupService) InviteLink(ctx context.Context, session types.Session, group *models.Group) (string, error) {
	if group == nil || group.GatewayGroupID == "" {
		return "", errors.NewConfigError("group.gateway_group_id", "group has no gateway id")
	}
	link, err := session.GetGroupInviteLink(ctx, group.GatewayGroupID)
	if err != nil {
		return "", errors.NewGatewayUnavailableError("invite_link", err).
			WithContext(LogFieldGroupID, group.ID)
	}
	if link == "" {
		return "", fmt.Errorf("gateway returned no invite link for group %d", group.ID)
	}
	return link, nil
}
