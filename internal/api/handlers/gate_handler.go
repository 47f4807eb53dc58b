package handlers

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/japperJ/geogate/internal/gate"
)

// GateHandler exposes the access decision engine over HTTP.
type GateHandler struct {
	engine *gate.Engine
}

// NewGateHandler wraps a decision engine.
func NewGateHandler(engine *gate.Engine) *GateHandler {
	return &GateHandler{engine: engine}
}

// Check handles POST /api/v1/gate/check. The protected site is resolved from
// the `hostname` query parameter, falling back to the Host header; optional
// GPS fields come from the JSON body. Allowed requests pass through with 200,
// denials return 403 with the decision reason. A body with undecodable GPS
// fields is handed to the engine as a parse failure so the denial, when the
// access mode requires GPS, still runs through auditing and evidence capture.
func (h *GateHandler) Check(c *gin.Context) {
	fix, gpsErr := gate.ParseGPSBody(c.Request.Body)

	req := gate.Request{
		RemoteAddr:   c.Request.RemoteAddr,
		ForwardedFor: c.GetHeader("X-Forwarded-For"),
		RealIP:       c.GetHeader("X-Real-IP"),
		Hostname:     targetHostname(c),
		UserAgent:    c.Request.UserAgent(),
		URL:          targetURL(c),
		GPS:          fix,
		GPSParseErr:  gpsErr,
	}

	decision := h.engine.Evaluate(c.Request.Context(), req)
	if decision.Allowed {
		c.JSON(http.StatusOK, decision)
		return
	}

	body := gin.H{
		"error":   "access denied",
		"reason":  decision.Reason,
		"message": decision.Message,
	}
	if decision.Country != "" {
		body["country"] = decision.Country
	}
	if decision.City != "" {
		body["city"] = decision.City
	}
	if decision.DistanceKM != nil {
		body["distance_km"] = *decision.DistanceKM
	}
	c.JSON(http.StatusForbidden, body)
}

func targetHostname(c *gin.Context) string {
	if hostname := c.Query("hostname"); hostname != "" {
		return hostname
	}
	host := c.Request.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return strings.ToLower(host)
}

func targetURL(c *gin.Context) string {
	if u := c.Query("url"); u != "" {
		return u
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.Path
}
