package utils

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatCurrencyTRY(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "₺0,00"},
		{"80", "₺80,00"},
		{"1234.5", "₺1.234,50"},
		{"1234567.891", "₺1.234.567,89"},
		{"-200", "-₺200,00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatCurrencyTRY(decimal.RequireFromString(tt.in)), tt.in)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{NewValidationError("op", "bad"), http.StatusBadRequest},
		{&ClientError{Kind: ErrRestaurantNotResolved}, http.StatusBadRequest},
		{NewDeniedError("op", "no"), http.StatusForbidden},
		{NewNotFoundError("op", "gone"), http.StatusNotFound},
		{&ClientError{Kind: ErrOperationInProgress}, http.StatusConflict},
		{&ClientError{Kind: ErrInvalidState}, http.StatusConflict},
		{NewTransportError("op", errors.New("dial")), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), fmt.Sprint(tt.err))
	}
}

func TestClientError_UnwrapsKindAndCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("join: %w", NewTransportError("session.join", cause))

	assert.True(t, IsTransport(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsDenied(err))

	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "session.join", ce.Op)
	assert.Equal(t, "join: session.join: connection refused", err.Error())
}

func TestJWT_RoundTrip(t *testing.T) {
	tok, err := GenerateToken(3, RoleKitchen, "R", time.Minute)
	require.NoError(t, err)

	claims, err := ParseToken(tok)
	require.NoError(t, err)
	assert.Equal(t, uint(3), claims.UserID)
	assert.Equal(t, RoleKitchen, claims.Role)
	assert.Equal(t, "R", claims.RestaurantID)

	expired, err := GenerateToken(3, RoleKitchen, "R", -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(expired)
	assert.Error(t, err)

	_, err = ParseToken(tok + "x")
	assert.Error(t, err)
}

func TestRespondServiceError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	RespondServiceError(c, NewDeniedError("qr.verify", "token is expired"))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"status":false,"message":"qr.verify: token is expired"}`, w.Body.String())
}
