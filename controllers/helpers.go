package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/qr-table-ordering/utils"
)

// sameRestaurant rejects staff acting on another restaurant. Tokens without a
// restaurant claim (platform admins) may act on any.
func sameRestaurant(c *gin.Context, restaurantID string) bool {
	claimed := c.GetString("restaurantID")
	if claimed == "" || claimed == restaurantID {
		return true
	}
	utils.RespondError(c, http.StatusForbidden, errors.New("token is not valid for this restaurant"))
	return false
}

func parseTableNumber(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("table number must be a positive integer")
	}
	return n, nil
}
