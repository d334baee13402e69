package services

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/qr-table-ordering/models"
	"github.com/yeremiapane/qr-table-ordering/utils"
)

// DefaultTokenDurationHours is the lifetime the management screens issue
// table tokens with.
const DefaultTokenDurationHours = 24

// TokenVerifier is the part of TokenService the cart and order flows need.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*models.TokenVerification, error)
}

// TokenService manages the lifecycle of per-table QR tokens on the backend.
type TokenService struct {
	api             *APIClient
	ledger          *TokenLedger
	defaultDuration int
	recheck         bool
	now             func() time.Time
	log             logrus.FieldLogger
}

type TokenServiceOptions struct {
	// Ledger may be nil.
	Ledger *TokenLedger
	// DefaultDurationHours applies when a caller passes 0.
	DefaultDurationHours int
	// RecheckAfterDeactivate re-verifies once after a deactivation.
	RecheckAfterDeactivate bool
}

func NewTokenService(api *APIClient, opts TokenServiceOptions, log logrus.FieldLogger) *TokenService {
	if opts.DefaultDurationHours <= 0 {
		opts.DefaultDurationHours = DefaultTokenDurationHours
	}
	if log == nil {
		log = utils.InfoLogger
	}
	return &TokenService{
		api:             api,
		ledger:          opts.Ledger,
		defaultDuration: opts.DefaultDurationHours,
		recheck:         opts.RecheckAfterDeactivate,
		now:             time.Now,
		log:             log,
	}
}

type generateRequest struct {
	RestaurantID string `json:"restaurantId"`
	TableNumber  int    `json:"tableNumber"`
	Duration     int    `json:"duration"`
}

type renewRequest struct {
	Duration int `json:"duration"`
}

// Generate mints a token for a table. The previous token for that table is
// superseded in the ledger.
func (s *TokenService) Generate(ctx context.Context, restaurantID string, tableNumber, durationHours int) (*models.QRToken, error) {
	const op = "qr.generate"
	if strings.TrimSpace(restaurantID) == "" {
		return nil, utils.NewValidationError(op, "restaurantId is required")
	}
	if tableNumber <= 0 {
		return nil, utils.NewValidationError(op, "tableNumber must be a positive integer")
	}
	duration, err := s.duration(op, durationHours)
	if err != nil {
		return nil, err
	}

	var token models.QRToken
	req := generateRequest{RestaurantID: restaurantID, TableNumber: tableNumber, Duration: duration}
	if err := s.api.do(ctx, op, http.MethodPost, "/qr/generate", req, &token, true); err != nil {
		return nil, err
	}
	if token.Token == "" {
		return nil, &utils.ClientError{Op: op, Kind: utils.ErrTransport, Message: "backend returned no token"}
	}
	if token.RestaurantID == "" {
		token.RestaurantID = restaurantID
	}
	if token.TableNumber == 0 {
		token.TableNumber = tableNumber
	}
	if token.Status == "" {
		token.Status = models.TokenStatusActive
	}
	token.Normalize(s.now())

	if s.ledger != nil {
		if err := s.ledger.Record(ctx, token); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"restaurant_id": restaurantID,
				"table_number":  tableNumber,
			}).Warn("failed to record token in ledger")
		}
	}

	s.log.WithFields(logrus.Fields{
		"restaurant_id": restaurantID,
		"table_number":  tableNumber,
		"duration":      duration,
	}).Info("table token generated")
	return &token, nil
}

// Verify reports whether token is usable. An inactive or terminal token is a
// normal outcome returned with Denied set, not an error.
func (s *TokenService) Verify(ctx context.Context, token string) (*models.TokenVerification, error) {
	const op = "qr.verify"
	if strings.TrimSpace(token) == "" {
		return nil, utils.NewValidationError(op, "token is required")
	}

	var qr models.QRToken
	err := s.api.get(ctx, op, "/qr/verify/"+url.PathEscape(token), &qr)
	if err != nil {
		if status, ok := deniedStatus(err); ok {
			return &models.TokenVerification{
				Token:  models.QRToken{Token: token, Status: status},
				Denied: true,
				Status: status,
			}, nil
		}
		return nil, err
	}

	if qr.Token == "" {
		qr.Token = token
	}
	qr.Normalize(s.now())

	return &models.TokenVerification{
		Token:  qr,
		Denied: !qr.IsActive,
		Status: qr.Status,
	}, nil
}

// deniedStatus turns a Denied backend answer into the terminal status to
// show. 410 Gone means expired; otherwise the message decides.
func deniedStatus(err error) (models.TokenStatus, bool) {
	if !utils.IsDenied(err) {
		return "", false
	}
	var ce *utils.ClientError
	if errors.As(err, &ce) && ce.Status != http.StatusGone && strings.Contains(strings.ToLower(ce.Message), string(models.TokenStatusCompleted)) {
		return models.TokenStatusCompleted, true
	}
	return models.TokenStatusExpired, true
}

// DeactivateResult reports the state observed by the re-verification that
// follows a deactivation.
type DeactivateResult struct {
	Status      models.TokenStatus `json:"status"`
	StillActive bool               `json:"stillActive"`
}

// Deactivate marks token completed. Deactivating an already completed token
// succeeds. When rechecking is enabled the token is verified exactly once
// afterwards; if the backend still reports it active a warning is logged and
// StillActive is set, without retrying.
func (s *TokenService) Deactivate(ctx context.Context, token string) (*DeactivateResult, error) {
	const op = "qr.deactivate"
	if strings.TrimSpace(token) == "" {
		return nil, utils.NewValidationError(op, "token is required")
	}
	logger := s.log.WithField("token", shortToken(token))

	err := s.api.do(ctx, op, http.MethodDelete, "/qr/deactivate/"+url.PathEscape(token), nil, nil, true)
	if err != nil {
		if utils.IsTransport(err) {
			return nil, err
		}
		// The backend may refuse to deactivate a token it already closed.
		v, verr := s.Verify(ctx, token)
		if verr != nil || v.Status != models.TokenStatusCompleted {
			return nil, err
		}
		logger.Debug("token already completed")
		s.markLedger(ctx, token, models.LedgerStatusCompleted)
		return &DeactivateResult{Status: models.TokenStatusCompleted}, nil
	}

	s.markLedger(ctx, token, models.LedgerStatusCompleted)
	result := &DeactivateResult{Status: models.TokenStatusCompleted}
	if !s.recheck {
		return result, nil
	}

	v, verr := s.Verify(ctx, token)
	if verr != nil {
		logger.WithError(verr).Warn("could not re-verify deactivated token")
		return result, nil
	}
	result.Status = v.Status
	if !v.Status.Terminal() {
		result.StillActive = true
		logger.Warn("token still active after deactivation")
	}
	return result, nil
}

// Renew extends an active token. Inactive or unknown tokens fail with a
// not found error.
func (s *TokenService) Renew(ctx context.Context, token string, durationHours int) (*models.QRToken, error) {
	const op = "qr.renew"
	if strings.TrimSpace(token) == "" {
		return nil, utils.NewValidationError(op, "token is required")
	}
	duration, err := s.duration(op, durationHours)
	if err != nil {
		return nil, err
	}

	var qr models.QRToken
	err = s.api.do(ctx, op, http.MethodPost, "/qr/refresh/"+url.PathEscape(token), renewRequest{Duration: duration}, &qr, true)
	if err != nil {
		if utils.IsDenied(err) || utils.IsNotFound(err) {
			return nil, &utils.ClientError{Op: op, Kind: utils.ErrNotFound, Message: "token is not active", Err: err}
		}
		return nil, err
	}
	if qr.Token == "" {
		qr.Token = token
	}
	if qr.Status == "" {
		qr.Status = models.TokenStatusActive
	}
	qr.Normalize(s.now())
	if !qr.IsActive {
		return nil, utils.NewNotFoundError(op, "token is not active")
	}
	qr.Renewed = true

	if s.ledger != nil {
		if err := s.ledger.UpdateExpiry(ctx, qr.Token, qr.ExpiresAt); err != nil {
			s.log.WithError(err).Warn("failed to update token expiry in ledger")
		}
	}
	return &qr, nil
}

// ListTables returns the QR state of every table of a restaurant.
func (s *TokenService) ListTables(ctx context.Context, restaurantID string) ([]models.TableQR, error) {
	const op = "qr.tables"
	if strings.TrimSpace(restaurantID) == "" {
		return nil, utils.NewValidationError(op, "restaurantId is required")
	}
	var tables []models.TableQR
	if err := s.api.do(ctx, op, http.MethodGet, "/qr/restaurant/"+url.PathEscape(restaurantID)+"/tables", nil, &tables, true); err != nil {
		return nil, err
	}
	if tables == nil {
		tables = []models.TableQR{}
	}
	return tables, nil
}

func (s *TokenService) duration(op string, hours int) (int, error) {
	switch {
	case hours < 0:
		return 0, utils.NewValidationError(op, "duration must not be negative")
	case hours == 0:
		return s.defaultDuration, nil
	}
	return hours, nil
}

func (s *TokenService) markLedger(ctx context.Context, token, status string) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.MarkStatus(ctx, token, status); err != nil {
		s.log.WithError(err).Warn("failed to update token ledger")
	}
}

// shortToken keeps tokens out of logs in full.
func shortToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "…"
}
