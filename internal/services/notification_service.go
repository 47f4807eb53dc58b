package services

import (
	"fmt"

	"github.com/containrrr/shoutrrr"

	"github.com/japperJ/geogate/internal/logger"
)

// NotificationService sends operator alerts through a shoutrrr URL. With no
// URL configured every call is a no-op.
type NotificationService struct {
	url string
}

// NewNotificationService returns a notifier for the given shoutrrr URL.
func NewNotificationService(url string) *NotificationService {
	return &NotificationService{url: url}
}

// NotifyEvidenceFailure alerts that a screenshot job exhausted its retries
// and was moved to the archive for manual inspection.
func (s *NotificationService) NotifyEvidenceFailure(siteID uint, targetURL string, cause error) {
	if s.url == "" {
		return
	}

	msg := fmt.Sprintf("GeoGate: evidence capture for site %d (%s) exhausted retries: %v", siteID, targetURL, cause)
	if err := shoutrrr.Send(s.url, msg); err != nil {
		logger.WithFields(map[string]interface{}{"site_id": siteID, "error": err.Error()}).
			Warn("failed to send evidence failure notification")
	}
}
