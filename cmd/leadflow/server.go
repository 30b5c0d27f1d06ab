package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"leadflow/internal/errors"
	"leadflow/internal/metrics"
	"leadflow/internal/middleware"
	"leadflow/internal/models"
	"leadflow/internal/service"
	"leadflow/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const formIDField = "form_id"

// SubmissionService accepts landing page submissions
type SubmissionService interface {
	Submit(ctx context.Context, req service.SubmissionRequest) (*service.SubmissionReceipt, error)
}

// HealthChecker reports whether the store is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// MetadataSource describes the client behind a request
type MetadataSource interface {
	Metadata(r *http.Request) models.SubmissionMetadata
}

type Server struct {
	router  *mux.Router
	cfg     models.ServerConfig
	intake  SubmissionService
	health  HealthChecker
	meta    MetadataSource
	logger  *logrus.Logger
	errLog  *errors.Logger
	server  *http.Server
	started time.Time
}

func NewServer(cfg models.ServerConfig, intake SubmissionService, health HealthChecker, meta MetadataSource, logger *logrus.Logger) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		cfg:     cfg,
		intake:  intake,
		health:  health,
		meta:    meta,
		logger:  logger,
		errLog:  errors.WrapLogger(logger),
		started: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger, s.cfg.TrustProxyHeaders))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/tenants/{tenantID:[0-9]+}/landing-pages/{landingPageID:[0-9]+}/submissions", s.handleSubmission()).
		Methods(http.MethodPost)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	s.logger.WithField("port", s.cfg.Port).Info("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]interface{}{
			"status":         "healthy",
			"uptime_seconds": int64(time.Since(s.started).Seconds()),
		}
		if err := s.health.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
			body["database"] = "unreachable"
			s.logger.WithError(err).Warn("Health check failed")
		}
		s.writeJSON(w, status, body)
	}
}

func (s *Server) handleSubmission() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		tenantID, err := strconv.ParseInt(vars["tenantID"], 10, 64)
		if err != nil {
			s.writeError(w, r, errors.NewValidationError("tenant_id", "must be a number"))
			return
		}
		landingPageID, err := strconv.ParseInt(vars["landingPageID"], 10, 64)
		if err != nil {
			s.writeError(w, r, errors.NewValidationError("landing_page_id", "must be a number"))
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBodyBytes)
		fields, err := readFields(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		formID := fields[formIDField]
		delete(fields, formIDField)

		receipt, err := s.intake.Submit(r.Context(), service.SubmissionRequest{
			TenantID:      tenantID,
			LandingPageID: landingPageID,
			FormID:        formID,
			Fields:        fields,
			Metadata:      s.meta.Metadata(r),
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusAccepted, receipt)
	}
}

// readFields accepts a JSON object, either flat or with a "fields" object, or
// a URL-encoded / multipart form. Repeated form keys keep their first value.
func readFields(r *http.Request) (map[string]string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "application/json":
		return readJSONFields(r.Body)
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if mediaType == "multipart/form-data" {
			if err := r.ParseMultipartForm(32 << 10); err != nil {
				return nil, bodyError(err)
			}
		} else if err := r.ParseForm(); err != nil {
			return nil, bodyError(err)
		}
		fields := make(map[string]string, len(r.PostForm))
		for key, values := range r.PostForm {
			if len(values) > 0 {
				fields[key] = values[0]
			}
		}
		return fields, nil
	default:
		return nil, errors.NewValidationError("content_type", "expected JSON or form data")
	}
}

func readJSONFields(body io.Reader) (map[string]string, error) {
	var raw map[string]interface{}
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, bodyError(err)
	}

	fields := make(map[string]string, len(raw))
	if nested, ok := raw["fields"].(map[string]interface{}); ok {
		for key, value := range nested {
			if str, ok := scalarString(value); ok {
				fields[key] = str
			}
		}
		if formID, ok := raw[formIDField].(string); ok {
			fields[formIDField] = formID
		}
		return fields, nil
	}

	for key, value := range raw {
		if str, ok := scalarString(value); ok {
			fields[key] = str
		}
	}
	return fields, nil
}

func scalarString(v interface{}) (string, bool) {
	switch value := v.(type) {
	case string:
		return value, true
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(value), true
	default:
		return "", false
	}
}

func bodyError(err error) error {
	if strings.Contains(err.Error(), "request body too large") {
		return errors.NewValidationError("body", "request body too large")
	}
	return errors.NewValidationError("body", "malformed request body")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := tracing.GetRequestID(r.Context())
	status := errors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		s.errLog.LogError(err, "Failed to accept submission", logrus.Fields{
			service.LogFieldRequestID: requestID,
		})
	}
	s.writeJSON(w, status, errors.ToHTTPResponse(err, requestID))
}
