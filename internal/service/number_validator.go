package service

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"leadflow/internal/constants"
	"leadflow/internal/errors"
	"leadflow/internal/validation"
	"leadflow/pkg/whatsapp"
	"leadflow/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

// NumberValidator asks a live gateway session whether a number is on WhatsApp
type NumberValidator struct {
	lookupTimeout time.Duration
	logger        *logrus.Logger
}

// NewNumberValidator creates a validator whose lookups are bounded by lookupTimeout
func NewNumberValidator(lookupTimeout time.Duration, logger *logrus.Logger) *NumberValidator {
	if lookupTimeout <= 0 {
		lookupTimeout = time.Duration(constants.DefaultGatewayLookupTimeoutSec) * time.Second
	}
	return &NumberValidator{lookupTimeout: lookupTimeout, logger: logger}
}

// Resolve returns the gateway's own chat id for phone. A number the gateway does
// not know yields NOT_FOUND. Transport failures, an open circuit, timeouts and
// 5xx/429 answers yield GATEWAY_UNAVAILABLE. Other 4xx answers are terminal:
// CONFIGURATION for rejected credentials, INVALID_PHONE otherwise. Nothing is
// retried here.
func (v *NumberValidator) Resolve(ctx context.Context, session types.Session, phone validation.Phone) (string, error) {
	if phone.IsZero() {
		return "", errors.NewInvalidPhoneError(0, validation.MinPhoneDigits)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, v.lookupTimeout)
	defer cancel()

	status, err := session.CheckExists(lookupCtx, phone.Digits())
	if err != nil {
		if lookupCtx.Err() == context.DeadlineExceeded {
			return "", errors.NewGatewayUnavailableError("check_exists", errors.NewTimeoutError("number lookup", v.lookupTimeout.String()))
		}
		if !whatsapp.IsTemporary(err) {
			return "", rejectedLookup(err).WithContext(LogFieldSession, session.Name())
		}
		return "", errors.NewGatewayUnavailableError("check_exists", err).
			WithContext(LogFieldSession, session.Name())
	}

	if status == nil || !status.NumberExists {
		v.logger.WithFields(logrus.Fields{
			LogFieldSession: session.Name(),
			LogFieldPhone:   SanitizePhoneNumber(ctx, phone.E164()),
		}).Info("Number is not registered on WhatsApp")
		return "", errors.NewNotFoundError("whatsapp number", SanitizePhoneNumber(ctx, phone.E164()))
	}

	if status.ChatID == "" {
		return phone.ChatID(), nil
	}
	return status.ChatID, nil
}

func rejectedLookup(err error) *errors.AppError {
	var apiErr *whatsapp.APIError
	if stderrors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
		return errors.Wrap(err, errors.ErrCodeConfiguration, "gateway rejected check_exists credentials")
	}
	return errors.Wrap(err, errors.ErrCodeInvalidPhone, "gateway rejected the number lookup")
}
