package services

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/qr-table-ordering/models"
	"github.com/yeremiapane/qr-table-ordering/utils"
)

// CartObserver hears about shared cart changes made through this service.
type CartObserver interface {
	OnCartUpdated(ctx context.Context, session models.CartSession)
	OnOrderComplete(ctx context.Context, sessionKey, orderID string)
}

// ConflictRecorder counts pushes that overwrote a version the pusher never saw.
type ConflictRecorder interface {
	RecordCartConflict(ctx context.Context, sessionKey string)
}

// PushResult reports the version written. Conflict is set when another
// client pushed after this client's last pull; the push still wins.
type PushResult struct {
	Version  int64 `json:"version"`
	Conflict bool  `json:"conflict"`
}

// sessionState tracks the cart version per session and what each client has
// last seen of it.
type sessionState struct {
	version int64
	seen    map[string]int64
}

// SessionCartSync keeps one table's cart shared between the diners' devices.
// Concurrent pushes are last-writer-wins; a version counter only detects them.
type SessionCartSync struct {
	api       *APIClient
	tokens    TokenVerifier
	secret    []byte
	observer  CartObserver
	conflicts ConflictRecorder
	log       logrus.FieldLogger

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// NewSessionCartSync derives session keys with secret; see SessionKey.
func NewSessionCartSync(api *APIClient, tokens TokenVerifier, secret []byte, log logrus.FieldLogger) *SessionCartSync {
	if log == nil {
		log = utils.InfoLogger
	}
	return &SessionCartSync{
		api:      api,
		tokens:   tokens,
		secret:   secret,
		log:      log,
		sessions: make(map[string]*sessionState),
	}
}

func (s *SessionCartSync) SetObserver(o CartObserver)             { s.observer = o }
func (s *SessionCartSync) SetConflictRecorder(r ConflictRecorder) { s.conflicts = r }

type joinRequest struct {
	SessionKey   string `json:"sessionKey"`
	RestaurantID string `json:"restaurantId"`
	TableNumber  int    `json:"tableNumber"`
	Token        string `json:"token"`
	ClientID     string `json:"clientId"`
}

type pushRequest struct {
	Items       []models.CartItem `json:"items"`
	ClientID    string            `json:"clientId"`
	BaseVersion int64             `json:"baseVersion"`
}

type orderCompleteRequest struct {
	ClientID string `json:"clientId"`
	OrderID  string `json:"orderId"`
}

// Join registers clientID at the table and returns the session key. The token
// must verify as active for that restaurant and table.
func (s *SessionCartSync) Join(ctx context.Context, restaurantID string, tableNumber int, token, clientID string) (string, error) {
	const op = "session.join"
	if strings.TrimSpace(restaurantID) == "" {
		return "", utils.NewValidationError(op, "restaurantId is required")
	}
	if tableNumber <= 0 {
		return "", utils.NewValidationError(op, "tableNumber must be a positive integer")
	}
	if clientID == "" {
		return "", utils.NewValidationError(op, "clientId is required")
	}

	v, err := s.tokens.Verify(ctx, token)
	if err != nil {
		return "", err
	}
	if v.Denied {
		return "", utils.NewDeniedError(op, "table token is "+string(v.Status))
	}
	if (v.Token.RestaurantID != "" && v.Token.RestaurantID != restaurantID) ||
		(v.Token.TableNumber != 0 && v.Token.TableNumber != tableNumber) {
		return "", utils.NewDeniedError(op, "token belongs to another table")
	}

	key := SessionKey(s.secret, restaurantID, tableNumber)
	var session models.CartSession
	req := joinRequest{SessionKey: key, RestaurantID: restaurantID, TableNumber: tableNumber, Token: token, ClientID: clientID}
	if err := s.api.do(ctx, op, http.MethodPost, "/sessions/join", req, &session, false); err != nil {
		return "", err
	}

	s.observe(key, clientID, session.Version)
	s.log.WithFields(logrus.Fields{
		"session_key":  key,
		"table_number": tableNumber,
		"client_id":    clientID,
	}).Info("client joined table session")
	return key, nil
}

// Joined reports whether clientID joined sessionKey through this service and
// has not left since.
func (s *SessionCartSync) Joined(sessionKey, clientID string) bool {
	if sessionKey == "" || clientID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[sessionKey]
	if !ok {
		return false
	}
	_, ok = st.seen[clientID]
	return ok
}

// MarkSeen records that clientID has seen version, typically the one of a
// cart_updated message delivered by the cart poller. Versions past the latest
// known one are clamped.
func (s *SessionCartSync) MarkSeen(sessionKey, clientID string, version int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[sessionKey]
	if !ok {
		return
	}
	seen, member := st.seen[clientID]
	if !member {
		return
	}
	if version > st.version {
		version = st.version
	}
	if version > seen {
		st.seen[clientID] = version
	}
}

// Pull fetches the shared cart and marks its version as seen by clientID.
// An empty clientID reads without being recorded as a diner; the cart
// poller pulls that way.
func (s *SessionCartSync) Pull(ctx context.Context, sessionKey, clientID string) (*models.CartSession, error) {
	const op = "session.pull"
	if sessionKey == "" {
		return nil, utils.NewValidationError(op, "sessionKey is required")
	}
	if clientID != "" && !s.Joined(sessionKey, clientID) {
		return nil, utils.NewDeniedError(op, "client has not joined this table")
	}

	var session models.CartSession
	path := "/sessions/" + url.PathEscape(sessionKey) + "?clientId=" + url.QueryEscape(clientID)
	if err := s.api.get(ctx, op, path, &session); err != nil {
		return nil, err
	}
	if session.SessionKey == "" {
		session.SessionKey = sessionKey
	}
	if session.Items == nil {
		session.Items = []models.CartItem{}
	}
	if clientID == "" {
		session.Version = s.advance(sessionKey, session.Version)
	} else {
		session.Version = s.observe(sessionKey, clientID, session.Version)
	}
	return &session, nil
}

// Push overwrites the shared cart with items.
func (s *SessionCartSync) Push(ctx context.Context, sessionKey string, items []models.CartItem, clientID string) (PushResult, error) {
	const op = "session.push"
	if sessionKey == "" {
		return PushResult{}, utils.NewValidationError(op, "sessionKey is required")
	}
	for _, item := range items {
		if item.Quantity <= 0 {
			return PushResult{}, utils.NewValidationError(op, "item quantity must be positive")
		}
	}
	if !s.Joined(sessionKey, clientID) {
		return PushResult{}, utils.NewDeniedError(op, "client has not joined this table")
	}

	s.mu.Lock()
	st := s.state(sessionKey)
	base := st.seen[clientID]
	conflict := base < st.version
	s.mu.Unlock()

	var session models.CartSession
	req := pushRequest{Items: models.CopyItems(items), ClientID: clientID, BaseVersion: base}
	if err := s.api.do(ctx, op, http.MethodPut, "/sessions/"+url.PathEscape(sessionKey)+"/cart", req, &session, false); err != nil {
		return PushResult{}, err
	}

	s.mu.Lock()
	next := st.version + 1
	if session.Version > next {
		// Someone wrote through another replica.
		conflict = conflict || session.Version > base+1
		next = session.Version
	}
	st.version = next
	st.seen[clientID] = next
	s.mu.Unlock()

	if conflict {
		s.log.WithFields(logrus.Fields{
			"session_key":  sessionKey,
			"client_id":    clientID,
			"base_version": base,
			"version":      next,
		}).Warn("cart push overwrote changes this client had not seen")
		if s.conflicts != nil {
			s.conflicts.RecordCartConflict(ctx, sessionKey)
		}
	}

	if s.observer != nil {
		session.SessionKey = sessionKey
		session.Items = models.CopyItems(items)
		session.Version = next
		s.observer.OnCartUpdated(ctx, session)
	}
	return PushResult{Version: next, Conflict: conflict}, nil
}

// Leave deregisters clientID from the session.
func (s *SessionCartSync) Leave(ctx context.Context, sessionKey, clientID string) error {
	const op = "session.leave"
	if sessionKey == "" {
		return utils.NewValidationError(op, "sessionKey is required")
	}
	path := "/sessions/" + url.PathEscape(sessionKey) + "/leave?clientId=" + url.QueryEscape(clientID)
	if err := s.api.do(ctx, op, http.MethodDelete, path, nil, nil, false); err != nil {
		return err
	}

	s.mu.Lock()
	if st, ok := s.sessions[sessionKey]; ok {
		delete(st.seen, clientID)
		if len(st.seen) == 0 {
			delete(s.sessions, sessionKey)
		}
	}
	s.mu.Unlock()
	return nil
}

// NotifyOrderComplete tells the other clients at the table that checkout
// happened so they can clear their cart view.
func (s *SessionCartSync) NotifyOrderComplete(ctx context.Context, sessionKey, clientID, orderID string) error {
	const op = "session.order_complete"
	if sessionKey == "" || orderID == "" {
		return utils.NewValidationError(op, "sessionKey and orderId are required")
	}
	if !s.Joined(sessionKey, clientID) {
		return utils.NewDeniedError(op, "client has not joined this table")
	}
	req := orderCompleteRequest{ClientID: clientID, OrderID: orderID}
	if err := s.api.do(ctx, op, http.MethodPost, "/sessions/"+url.PathEscape(sessionKey)+"/order-complete", req, nil, false); err != nil {
		return err
	}
	if s.observer != nil {
		s.observer.OnOrderComplete(ctx, sessionKey, orderID)
	}
	return nil
}

// observe records remote as seen by clientID and returns the version to
// report, which never goes backwards.
func (s *SessionCartSync) observe(sessionKey, clientID string, remote int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(sessionKey)
	if remote > st.version {
		st.version = remote
	}
	st.seen[clientID] = st.version
	return st.version
}

// advance raises the known version of a session someone joined, without
// marking it seen by anyone.
func (s *SessionCartSync) advance(sessionKey string, remote int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[sessionKey]
	if !ok {
		return remote
	}
	if remote > st.version {
		st.version = remote
	}
	return st.version
}

// state must be called with s.mu held.
func (s *SessionCartSync) state(sessionKey string) *sessionState {
	st, ok := s.sessions[sessionKey]
	if !ok {
		st = &sessionState{seen: make(map[string]int64)}
		s.sessions[sessionKey] = st
	}
	return st
}
