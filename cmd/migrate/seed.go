package main

import (
	"context"
	"fmt"

	"leadflow/internal/models"
	"leadflow/internal/security"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
)

// catalogStore is the write side of the store the seeder needs
type catalogStore interface {
	SaveConnection(ctx context.Context, conn *models.Connection) error
	CreateTag(ctx context.Context, tenantID int64, name string) (int64, error)
	SaveGroupSeries(ctx context.Context, s *models.GroupSeries) error
	SaveGroup(ctx context.Context, g *models.Group) error
	SaveLandingPage(ctx context.Context, lp *models.LandingPage) error
}

// catalog is a seed file. Entries reference each other by key; database ids
// are assigned on insert.
type catalog struct {
	Connections  []seedConnection  `koanf:"connections"`
	Tags         []seedTag         `koanf:"tags"`
	Series       []seedSeries      `koanf:"series"`
	Groups       []seedGroup       `koanf:"groups"`
	LandingPages []seedLandingPage `koanf:"landing_pages"`
}

type seedConnection struct {
	Key      string `koanf:"key"`
	TenantID int64  `koanf:"tenant_id"`
	Name     string `koanf:"name"`
	Session  string `koanf:"session"`
	Default  bool   `koanf:"default"`
}

type seedTag struct {
	Key      string `koanf:"key"`
	TenantID int64  `koanf:"tenant_id"`
	Name     string `koanf:"name"`
}

type seedSeries struct {
	Key      string `koanf:"key"`
	TenantID int64  `koanf:"tenant_id"`
	Name     string `koanf:"name"`
}

type seedGroup struct {
	Key            string `koanf:"key"`
	Connection     string `koanf:"connection"`
	Series         string `koanf:"series"`
	GatewayGroupID string `koanf:"gateway_group_id"`
	Subject        string `koanf:"subject"`
	Capacity       int    `koanf:"capacity"`
}

type seedLandingPage struct {
	TenantID        int64  `koanf:"tenant_id"`
	Title           string `koanf:"title"`
	Slug            string `koanf:"slug"`
	SubmissionLimit int    `koanf:"submission_limit"`
	Connection      string `koanf:"connection"`
	CountryCode     string `koanf:"country_code"`
	Confirmation    struct {
		Message  string `koanf:"message"`
		ImageURL string `koanf:"image_url"`
	} `koanf:"confirmation"`
	Group struct {
		Group    string `koanf:"group"`
		Series   string `koanf:"series"`
		Message  string `koanf:"message"`
		ImageURL string `koanf:"image_url"`
	} `koanf:"group"`
	Notification struct {
		Number   string `koanf:"number"`
		Template string `koanf:"template"`
		ImageURL string `koanf:"image_url"`
	} `koanf:"notification"`
	Tags []string `koanf:"tags"`
}

func loadCatalog(path string) (*catalog, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid seed path: %w", err)
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, err
	}
	var cat catalog
	if err := k.Unmarshal("", &cat); err != nil {
		return nil, fmt.Errorf("failed to decode seed catalog: %w", err)
	}
	return &cat, nil
}

// seed inserts the catalog in dependency order and returns a one-line summary
func seed(ctx context.Context, store catalogStore, cat *catalog) (string, error) {
	connections := make(map[string]*models.Connection, len(cat.Connections))
	for _, c := range cat.Connections {
		conn := &models.Connection{
			TenantID:    c.TenantID,
			Name:        c.Name,
			SessionName: c.Session,
			Status:      models.ConnectionStatusDisconnected,
			IsDefault:   c.Default,
		}
		if err := store.SaveConnection(ctx, conn); err != nil {
			return "", err
		}
		connections[c.Key] = conn
	}

	tags := make(map[string]int64, len(cat.Tags))
	for _, t := range cat.Tags {
		id, err := store.CreateTag(ctx, t.TenantID, t.Name)
		if err != nil {
			return "", err
		}
		tags[t.Key] = id
	}

	series := make(map[string]*models.GroupSeries, len(cat.Series))
	for _, s := range cat.Series {
		gs := &models.GroupSeries{TenantID: s.TenantID, Name: s.Name}
		if err := store.SaveGroupSeries(ctx, gs); err != nil {
			return "", err
		}
		series[s.Key] = gs
	}

	groups := make(map[string]int64, len(cat.Groups))
	positions := make(map[string]int)
	for _, g := range cat.Groups {
		conn, ok := connections[g.Connection]
		if !ok {
			return "", fmt.Errorf("group %q references unknown connection %q", g.Key, g.Connection)
		}
		group := &models.Group{
			TenantID:       conn.TenantID,
			ConnectionID:   conn.ID,
			GatewayGroupID: g.GatewayGroupID,
			Subject:        g.Subject,
			Capacity:       g.Capacity,
		}
		if g.Series != "" {
			gs, ok := series[g.Series]
			if !ok {
				return "", fmt.Errorf("group %q references unknown series %q", g.Key, g.Series)
			}
			positions[g.Series]++
			id := gs.ID
			group.SeriesID = &id
			group.SeriesPosition = positions[g.Series]
		}
		if err := store.SaveGroup(ctx, group); err != nil {
			return "", err
		}
		groups[g.Key] = group.ID
	}

	for _, p := range cat.LandingPages {
		page := &models.LandingPage{
			TenantID:        p.TenantID,
			Title:           p.Title,
			Slug:            p.Slug,
			SubmissionLimit: p.SubmissionLimit,
		}
		d := &page.Dispatch
		d.CountryCode = p.CountryCode
		if p.Connection != "" {
			conn, ok := connections[p.Connection]
			if !ok {
				return "", fmt.Errorf("landing page %q references unknown connection %q", p.Slug, p.Connection)
			}
			d.ConnectionID = conn.ID
		}

		d.Confirmation = models.ConfirmationConfig{
			Enabled:  p.Confirmation.Message != "",
			Message:  p.Confirmation.Message,
			ImageURL: p.Confirmation.ImageURL,
		}

		d.Group.Message = p.Group.Message
		d.Group.ImageURL = p.Group.ImageURL
		if p.Group.Group != "" {
			id, ok := groups[p.Group.Group]
			if !ok {
				return "", fmt.Errorf("landing page %q references unknown group %q", p.Slug, p.Group.Group)
			}
			d.Group.InviteGroupID = id
		}
		if p.Group.Series != "" {
			gs, ok := series[p.Group.Series]
			if !ok {
				return "", fmt.Errorf("landing page %q references unknown series %q", p.Slug, p.Group.Series)
			}
			d.Group.ManagedGroupSeriesID = gs.ID
		}

		d.Notification = models.NotificationConfig{
			Enabled:  p.Notification.Number != "",
			Number:   p.Notification.Number,
			Template: p.Notification.Template,
			ImageURL: p.Notification.ImageURL,
		}

		for _, key := range p.Tags {
			id, ok := tags[key]
			if !ok {
				return "", fmt.Errorf("landing page %q references unknown tag %q", p.Slug, key)
			}
			d.ContactTags = append(d.ContactTags, id)
		}

		if err := store.SaveLandingPage(ctx, page); err != nil {
			return "", err
		}
	}

	return fmt.Sprintf("Seeded %d connections, %d tags, %d series, %d groups, %d landing pages",
		len(cat.Connections), len(cat.Tags), len(cat.Series), len(cat.Groups), len(cat.LandingPages)), nil
}
