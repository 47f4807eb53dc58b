package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/japperJ/geogate/internal/services"
)

// AccessLogHandler serves the audit query surface.
type AccessLogHandler struct {
	audits *services.AuditService
}

// NewAccessLogHandler wraps an audit service.
func NewAccessLogHandler(audits *services.AuditService) *AccessLogHandler {
	return &AccessLogHandler{audits: audits}
}

// List handles GET /api/v1/logs with filtering and pagination.
func (h *AccessLogHandler) List(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	page, err := h.audits.Query(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, page)
}

// Export handles GET /api/v1/logs/export, streaming all matching rows as CSV
// regardless of page/limit parameters.
func (h *AccessLogHandler) Export(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="access-logs.csv"`)
	if err := h.audits.ExportCSV(c.Writer, filter); err != nil {
		// Headers are already sent; all we can do is log through the middleware.
		_ = c.Error(err)
	}
}

func parseFilter(c *gin.Context) (services.AuditFilter, error) {
	var filter services.AuditFilter

	if raw := c.Query("site_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return filter, err
		}
		filter.SiteID = uint(id)
	}
	if raw := c.Query("allowed"); raw != "" {
		allowed, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, err
		}
		filter.Allowed = &allowed
	}
	if raw := c.Query("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, err
		}
		filter.From = from
	}
	if raw := c.Query("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, err
		}
		filter.To = to
	}
	filter.IPContains = c.Query("ip")
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))

	return filter, nil
}
