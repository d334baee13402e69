package middlewares

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/qr-table-ordering/services"
)

// TenantMiddleware picks the restaurant subdomain of the request: the
// X-Subdomain header, then the subdomain query parameter (websockets), then
// the first label of a host with at least three labels. The result travels in
// the request context to every backend call.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sub := strings.TrimSpace(c.GetHeader("X-Subdomain"))
		if sub == "" {
			sub = strings.TrimSpace(c.Query("subdomain"))
		}
		if sub == "" {
			sub = hostSubdomain(c.Request.Host)
		}
		if sub != "" {
			c.Set("subdomain", sub)
			c.Request = c.Request.WithContext(services.WithTenant(c.Request.Context(), sub))
		}
		c.Next()
	}
}

func hostSubdomain(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if net.ParseIP(host) != nil {
		return ""
	}
	labels := strings.Split(host, ".")
	if len(labels) < 3 || labels[0] == "www" || labels[0] == "api" {
		return ""
	}
	return labels[0]
}
