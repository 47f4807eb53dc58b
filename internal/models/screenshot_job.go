package models

import (
	"time"
)

// ScreenshotJobPayload is the wire schema of an evidence capture job. LogUUID
// is generated before the job is enqueued so the worker can correlate the
// screenshot with its audit row without a foreign key; Timestamp supports the
// window-match fallback when the row was written under a different identifier.
type ScreenshotJobPayload struct {
	SiteID    uint      `json:"site_id"`
	URL       string    `json:"url"`
	Reason    string    `json:"reason"`
	LogUUID   string    `json:"log_uuid"`
	IPAddress string    `json:"ip_address"`
	Timestamp time.Time `json:"timestamp"`
}

// ScreenshotJobResult describes where a captured screenshot was stored.
type ScreenshotJobResult struct {
	ScreenshotURL string `json:"screenshot_url"`
	Key           string `json:"key"`
}
