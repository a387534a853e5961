package middleware

import "github.com/labstack/echo/v4"

const (
	requesterKey = "requester"
	roleKey      = "role"
)

// Requester returns the authenticated requester stored by JWTAuth, or an
// empty string when the request is anonymous.
func Requester(c echo.Context) string {
	if s, ok := c.Get(requesterKey).(string); ok {
		return s
	}
	return ""
}

// rateKeyOwner identifies the caller for rate limiting.
func rateKeyOwner(c echo.Context) string {
	if r := Requester(c); r != "" {
		return "user:" + r
	}
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}
