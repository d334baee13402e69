package utils

import (
	"github.com/gin-gonic/gin"
)

type JSONResponse struct {
	Status  bool        `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func RespondJSON(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(code, JSONResponse{
		Status:  code >= 200 && code < 300,
		Message: message,
		Data:    data,
	})
}

func RespondError(c *gin.Context, code int, err error) {
	c.JSON(code, JSONResponse{
		Status:  false,
		Message: err.Error(),
		Data:    nil,
	})
}

// RespondServiceError picks the status from the error kind.
func RespondServiceError(c *gin.Context, err error) {
	code := StatusFor(err)
	if code >= 500 {
		ErrorLogger.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	RespondError(c, code, err)
}
