package models

import "time"

type TokenStatus string

const (
	TokenStatusActive    TokenStatus = "active"
	TokenStatusCompleted TokenStatus = "completed"
	TokenStatusExpired   TokenStatus = "expired"
)

// Terminal reports whether no transition leaves this status.
func (s TokenStatus) Terminal() bool {
	return s == TokenStatusCompleted || s == TokenStatusExpired
}

// QRToken binds a device session to one restaurant table for a bounded time.
type QRToken struct {
	ID           string      `json:"id"`
	Token        string      `json:"token"`
	RestaurantID string      `json:"restaurantId"`
	TableNumber  int         `json:"tableNumber"`
	CreatedAt    time.Time   `json:"createdAt"`
	ExpiresAt    *time.Time  `json:"expiresAt,omitempty"`
	Status       TokenStatus `json:"status"`
	IsActive     bool        `json:"isActive"`
	Renewed      bool        `json:"renewed"`
}

// Active derives activity from status and expiry. A token the backend still
// reports as active but whose expiry has passed counts as expired.
func (t *QRToken) Active(now time.Time) bool {
	if t.Status != TokenStatusActive {
		return false
	}
	if t.ExpiresAt != nil && !now.Before(*t.ExpiresAt) {
		return false
	}
	return true
}

// Normalize fills Status/IsActive consistently from whatever the backend sent.
func (t *QRToken) Normalize(now time.Time) {
	if t.Status == "" {
		if t.IsActive {
			t.Status = TokenStatusActive
		} else {
			t.Status = TokenStatusExpired
		}
	}
	if t.Status == TokenStatusActive && t.ExpiresAt != nil && !now.Before(*t.ExpiresAt) {
		t.Status = TokenStatusExpired
	}
	t.IsActive = t.Active(now)
}

// TokenVerification is the outcome of verifying a token. An inactive token is
// an expected result, reported through Denied rather than an error.
type TokenVerification struct {
	Token  QRToken     `json:"token"`
	Denied bool        `json:"denied"`
	Status TokenStatus `json:"status"`
}

// TableQR is one row of the per-restaurant table listing.
type TableQR struct {
	TableNumber int        `json:"tableNumber"`
	Token       string     `json:"token,omitempty"`
	Status      string     `json:"status,omitempty"`
	IsActive    bool       `json:"isActive"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}
