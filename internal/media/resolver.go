// Package media resolves image references stored in dispatch configs to
// local files that can be attached to outgoing messages.
package media

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"leadflow/internal/metrics"
	"leadflow/internal/models"
	"leadflow/internal/security"
	"leadflow/pkg/constants"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"
)

// Image is a resolved, readable image file.
type Image struct {
	Path     string
	Filename string
	MimeType string
	Data     []byte
}

// ImageResolver maps image references to files under the public root.
type ImageResolver struct {
	publicRoot   string
	publicPrefix string
	allowed      map[string]bool
	maxBytes     int64
	logger       *logrus.Logger
}

// NewImageResolver builds a resolver from the media config.
func NewImageResolver(cfg models.MediaConfig, logger *logrus.Logger) *ImageResolver {
	if logger == nil {
		logger = logrus.New()
	}
	allowed := make(map[string]bool, len(cfg.AllowedImageExtensions))
	for _, ext := range cfg.AllowedImageExtensions {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}
	return &ImageResolver{
		publicRoot:   filepath.Clean(cfg.PublicRoot),
		publicPrefix: cfg.PublicPrefix,
		allowed:      allowed,
		maxBytes:     int64(cfg.MaxImageMB) * constants.BytesPerMegabyte,
		logger:       logger,
	}
}

// Resolve returns the image behind ref, or nil when it cannot be used.
// It never returns an error; every miss is logged with its reason.
func (r *ImageResolver) Resolve(ctx context.Context, ref string, tenantID int64) (img *Image) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil
	}

	log := r.logger.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"image_ref": ref,
	})

	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("panic", rec).Error("Image resolution panicked")
			img = nil
		}
		metrics.RecordImageResolution(img != nil)
	}()

	candidates, err := r.candidates(ref, tenantID)
	if err != nil {
		log.WithError(err).Warn("Image reference rejected")
		return nil
	}

	var lastErr error
	for _, path := range candidates {
		if ctx.Err() != nil {
			log.WithError(ctx.Err()).Debug("Image resolution cancelled")
			return nil
		}
		img, lastErr = r.load(path)
		if lastErr == nil {
			log.WithField("path", path).Debug("Image resolved")
			return img
		}
		log.WithError(lastErr).WithField("path", path).Debug("Image candidate rejected")
	}

	log.WithError(lastErr).Warn("Image not found, sending without attachment")
	return nil
}

func (r *ImageResolver) candidates(ref string, tenantID int64) ([]string, error) {
	if r.publicPrefix != "" && strings.HasPrefix(ref, r.publicPrefix) {
		path, err := r.underRoot(strings.TrimPrefix(ref, r.publicPrefix))
		if err != nil {
			return nil, err
		}
		return []string{path}, nil
	}

	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		u, err := url.Parse(ref)
		if err != nil {
			return nil, fmt.Errorf("invalid image url: %w", err)
		}
		rel := u.Path
		if r.publicPrefix != "" && strings.HasPrefix(rel, r.publicPrefix) {
			rel = strings.TrimPrefix(rel, r.publicPrefix)
		} else {
			rel = strings.TrimPrefix(rel, "/")
		}
		path, err := r.underRoot(rel)
		if err != nil {
			return nil, err
		}
		return []string{path}, nil
	}

	if filepath.IsAbs(ref) {
		if err := security.ValidateFilePath(ref); err != nil {
			return nil, err
		}
		return []string{filepath.Clean(ref)}, nil
	}

	rels := []string{
		filepath.Join(fmt.Sprintf("tenant%d", tenantID), "landing-pages", ref),
		filepath.Join(fmt.Sprintf("tenant%d", tenantID), ref),
		ref,
	}
	paths := make([]string, 0, len(rels))
	for _, rel := range rels {
		path, err := r.underRoot(rel)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (r *ImageResolver) underRoot(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("empty image path")
	}
	return security.ValidateFilePathWithBase(rel, r.publicRoot)
}

func (r *ImageResolver) load(path string) (*Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file")
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if !r.allowed[ext] {
		return nil, fmt.Errorf("extension %q not allowed", ext)
	}
	if r.maxBytes > 0 && info.Size() > r.maxBytes {
		return nil, fmt.Errorf("image size %d exceeds limit %d", info.Size(), r.maxBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		return nil, fmt.Errorf("content type %s is not an image", mime.String())
	}

	return &Image{
		Path:     path,
		Filename: filepath.Base(path),
		MimeType: mime.String(),
		Data:     data,
	}, nil
}
