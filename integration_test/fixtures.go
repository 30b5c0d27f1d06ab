package integration_test

import (
	"context"

	"leadflow/internal/models"

	"github.com/stretchr/testify/require"
)

const (
	leadDigits  = "5511987654321"
	leadChatID  = leadDigits + "@c.us"
	leadE164    = "+" + leadDigits
	adminDigits = "5511912345678"
	adminChatID = adminDigits + "@c.us"
	adminE164   = "+" + adminDigits
)

// Catalog is the tenant setup most scenarios start from
type Catalog struct {
	Connection *models.Connection
	TagIDs     []int64
	Series     *models.GroupSeries
	Groups     []*models.Group
	FullPage   *models.LandingPage
	PlainPage  *models.LandingPage
}

// SeedCatalog stores one connected session, two tags, a two-group series and
// two landing pages: one using every step and one with confirmation only.
func (e *TestEnvironment) SeedCatalog() *Catalog {
	e.t.Helper()
	ctx := context.Background()
	c := &Catalog{}

	c.Connection = &models.Connection{
		TenantID:    tenantID,
		Name:        "Sales",
		SessionName: sessionName,
		Status:      models.ConnectionStatusConnected,
		IsDefault:   true,
	}
	require.NoError(e.t, e.DB.SaveConnection(ctx, c.Connection))

	for _, name := range []string{"lead", "spring-launch"} {
		id, err := e.DB.CreateTag(ctx, tenantID, name)
		require.NoError(e.t, err)
		c.TagIDs = append(c.TagIDs, id)
	}

	c.Series = &models.GroupSeries{TenantID: tenantID, Name: "Launch groups"}
	require.NoError(e.t, e.DB.SaveGroupSeries(ctx, c.Series))

	for i, gid := range []string{"120363001@g.us", "120363002@g.us"} {
		g := &models.Group{
			TenantID:       tenantID,
			ConnectionID:   c.Connection.ID,
			GatewayGroupID: gid,
			Subject:        "Launch " + string(rune('A'+i)),
			SeriesID:       &c.Series.ID,
			SeriesPosition: i + 1,
			Capacity:       3,
		}
		require.NoError(e.t, e.DB.SaveGroup(ctx, g))
		c.Groups = append(c.Groups, g)
	}
	e.Gateway.AddGroup("120363001@g.us", 3, "CODEA")
	e.Gateway.AddGroup("120363002@g.us", 1, "CODEB")

	c.FullPage = &models.LandingPage{
		TenantID: tenantID,
		Title:    "Spring Launch",
		Slug:     "spring-launch",
		Dispatch: models.DispatchConfig{
			Confirmation: models.ConfirmationConfig{
				Enabled:  true,
				Message:  "Thanks {{first_name}}, we got your details!",
				ImageURL: "welcome.png",
			},
			Group: models.GroupInviteConfig{
				ManagedGroupSeriesID: c.Series.ID,
				Message:              "Join the launch group, {{name}}: {{link}}",
			},
			Notification: models.NotificationConfig{
				Enabled: true,
				Number:  "11 91234-5678",
			},
			ContactTags: c.TagIDs,
		},
	}
	require.NoError(e.t, e.DB.SaveLandingPage(ctx, c.FullPage))

	c.PlainPage = &models.LandingPage{
		TenantID:        tenantID,
		Title:           "Newsletter",
		Slug:            "newsletter",
		SubmissionLimit: 2,
		Dispatch: models.DispatchConfig{
			Confirmation: models.ConfirmationConfig{
				Enabled: true,
				Message: "Welcome to the newsletter, {{name}}.",
			},
		},
	}
	require.NoError(e.t, e.DB.SaveLandingPage(ctx, c.PlainPage))

	return c
}

func leadFields() map[string]string {
	return map[string]string{
		"name":   "Ana Souza",
		"number": "(11) 98765-4321",
		"email":  "ana@example.com",
		"city":   "Campinas",
	}
}
