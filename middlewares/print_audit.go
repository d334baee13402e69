package middlewares

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// PrintAuditMiddleware records who asked for a ticket to be printed and how
// the request ended.
func PrintAuditMiddleware(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		entry := log.WithFields(logrus.Fields{
			"order_id": c.Param("id"),
			"path":     c.FullPath(),
		})
		if userID, ok := c.Get("userID"); ok {
			entry = entry.WithField("user_id", userID)
		}
		entry.Info("print requested")

		c.Next()

		if c.Writer.Status() < 300 {
			entry.Info("print request completed")
		} else {
			entry.WithField("status", c.Writer.Status()).Error("print request failed")
		}
	}
}
