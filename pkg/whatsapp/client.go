package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"leadflow/internal/metrics"
	"leadflow/pkg/circuitbreaker"
	"leadflow/pkg/constants"
	"leadflow/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

// APIError is a non-2xx answer from the gateway
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether the status suggests the gateway itself is unhealthy
func (e *APIError) Temporary() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// IsTemporary reports whether err is a transport failure, an open circuit,
// a timeout or a 5xx/429 answer. Plain 4xx answers are not temporary.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}

// WhatsAppClient talks to a WAHA gateway over HTTP
type WhatsAppClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *logrus.Logger
}

// NewClient creates a gateway client guarded by a circuit breaker
func NewClient(config types.ClientConfig) *WhatsAppClient {
	return NewClientWithLogger(config, logrus.New())
}

// NewClientWithLogger creates a gateway client that logs through logger
func NewClientWithLogger(config types.ClientConfig, logger *logrus.Logger) *WhatsAppClient {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeoutSec * time.Second
	}
	return &WhatsAppClient{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		client:  &http.Client{Timeout: timeout},
		breaker: circuitbreaker.NewWithSettings(circuitbreaker.Settings{
			Name:         "waha",
			MaxFailures:  config.BreakerMaxFailures,
			ResetTimeout: config.BreakerResetTimeout,
			IsFailure: func(err error) bool {
				return IsTemporary(err) && !errors.Is(err, context.Canceled)
			},
			Logger: logger,
		}),
		logger: logger,
	}
}

// Session returns a handle bound to one gateway session
func (c *WhatsAppClient) Session(name string) types.Session {
	return &session{client: c, name: name}
}

// ListSessions returns every session the gateway knows about
func (c *WhatsAppClient) ListSessions(ctx context.Context) ([]types.SessionInfo, error) {
	var sessions []types.SessionInfo
	if err := c.do(ctx, "list_sessions", http.MethodGet, types.APIBase+types.EndpointSessions, nil, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// BreakerState exposes the circuit state for health reporting
func (c *WhatsAppClient) BreakerState() circuitbreaker.State {
	return c.breaker.GetState()
}

func (c *WhatsAppClient) do(ctx context.Context, op, method, path string, query url.Values, payload, out interface{}) error {
	start := time.Now()
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.roundTrip(ctx, method, path, query, payload, out)
	})
	metrics.RecordGatewayRequest(op, time.Since(start), err)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"operation": op,
			"path":      path,
		}).WithError(err).Debug("Gateway request failed")
	}
	return err
}

func (c *WhatsAppClient) roundTrip(ctx context.Context, method, path string, query url.Values, payload, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if raw, ok := out.(*[]byte); ok {
		*raw = respBody
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var errResp types.WAHAErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		if errResp.Message != "" {
			return errResp.Message
		}
		if errResp.Error != "" {
			return errResp.Error
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
