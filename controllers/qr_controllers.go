package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/qr-table-ordering/services"
	"github.com/yeremiapane/qr-table-ordering/utils"
)

// QRController lets staff issue and retire table tokens.
type QRController struct {
	Tokens *services.TokenService
	Ledger *services.TokenLedger
}

func NewQRController(tokens *services.TokenService, ledger *services.TokenLedger) *QRController {
	return &QRController{Tokens: tokens, Ledger: ledger}
}

// GenerateToken -> POST /staff/qr/generate
func (qc *QRController) GenerateToken(c *gin.Context) {
	var req struct {
		RestaurantID  string `json:"restaurantId" binding:"required"`
		TableNumber   int    `json:"tableNumber" binding:"required"`
		DurationHours int    `json:"durationHours"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	if !sameRestaurant(c, req.RestaurantID) {
		return
	}

	token, err := qc.Tokens.Generate(c.Request.Context(), req.RestaurantID, req.TableNumber, req.DurationHours)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "QR token generated", token)
}

// DeactivateToken -> DELETE /staff/qr/:token
// stillActive=true means the backend kept reporting the token active after
// the deactivation; the dashboard shows a warning.
func (qc *QRController) DeactivateToken(c *gin.Context) {
	res, err := qc.Tokens.Deactivate(c.Request.Context(), c.Param("token"))
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	msg := "QR token deactivated"
	if res.StillActive {
		msg = "Deactivation sent but the token is still reported active"
	}
	utils.RespondJSON(c, http.StatusOK, msg, res)
}

// RenewToken -> POST /staff/qr/:token/renew
func (qc *QRController) RenewToken(c *gin.Context) {
	var req struct {
		DurationHours int `json:"durationHours"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondError(c, http.StatusBadRequest, err)
			return
		}
	}

	token, err := qc.Tokens.Renew(c.Request.Context(), c.Param("token"), req.DurationHours)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "QR token renewed", token)
}

// ListTables -> GET /staff/qr/restaurant/:id/tables
func (qc *QRController) ListTables(c *gin.Context) {
	restaurantID := c.Param("id")
	if !sameRestaurant(c, restaurantID) {
		return
	}
	tables, err := qc.Tokens.ListTables(c.Request.Context(), restaurantID)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of tables", tables)
}

// TokenHistory -> GET /staff/qr/restaurant/:id/tables/:table/history
func (qc *QRController) TokenHistory(c *gin.Context) {
	restaurantID := c.Param("id")
	if !sameRestaurant(c, restaurantID) {
		return
	}
	table, err := parseTableNumber(c.Param("table"))
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	rows, err := qc.Ledger.History(c.Request.Context(), restaurantID, table)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Token history", rows)
}
