package services

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/japperJ/geogate/internal/logger"
	"github.com/japperJ/geogate/internal/metrics"
	"github.com/japperJ/geogate/internal/models"
)

// csvHeader is the column order of the CSV export.
var csvHeader = []string{
	"id", "site_id", "timestamp", "ip_address", "user_agent", "url",
	"allowed", "reason", "ip_country", "ip_city", "ip_lat", "ip_lng",
	"gps_lat", "gps_lng", "gps_accuracy", "screenshot_url",
}

const exportPageSize = 500

// AuditFilter narrows audit queries. Zero values mean "no constraint".
type AuditFilter struct {
	SiteID     uint
	Allowed    *bool
	From       time.Time
	To         time.Time
	IPContains string
	Page       int
	Limit      int
}

// Pagination describes one page of results.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

// AuditPage is a single page of audit rows.
type AuditPage struct {
	Logs       []models.AccessLog `json:"logs"`
	Pagination Pagination         `json:"pagination"`
}

// AuditService records access decisions off the request path and serves the
// audit query surface. Writes are deferred onto an internal queue; a full
// queue drops the entry (counted, logged) rather than blocking the gate.
type AuditService struct {
	db    *gorm.DB
	queue chan models.AccessLog

	mu          sync.Mutex
	synchronous bool

	done chan struct{}
}

// NewAuditService starts the background writer. Call Close to drain it.
func NewAuditService(db *gorm.DB, queueSize int) *AuditService {
	if queueSize <= 0 {
		queueSize = 1024
	}
	s := &AuditService{
		db:    db,
		queue: make(chan models.AccessLog, queueSize),
		done:  make(chan struct{}),
	}
	go s.writer()
	return s
}

// SetSynchronous switches the service into test mode: Log waits for the
// database write so assertions can run immediately after.
func (s *AuditService) SetSynchronous(on bool) {
	s.mu.Lock()
	s.synchronous = on
	s.mu.Unlock()
}

// Log records a decision. It returns immediately in normal operation; write
// failures are reported to diagnostics and never surfaced to the caller.
func (s *AuditService) Log(entry models.AccessLog) {
	s.mu.Lock()
	synchronous := s.synchronous
	s.mu.Unlock()

	if synchronous {
		s.write(entry)
		return
	}

	select {
	case s.queue <- entry:
	default:
		metrics.IncAuditDropped()
		logger.WithFields(map[string]interface{}{"site_id": entry.SiteID, "reason": entry.Reason}).
			Warn("audit queue full, dropping entry")
	}
}

// Close stops accepting entries and drains the queue.
func (s *AuditService) Close() {
	close(s.queue)
	<-s.done
}

func (s *AuditService) writer() {
	defer close(s.done)
	for entry := range s.queue {
		s.write(entry)
	}
}

func (s *AuditService) write(entry models.AccessLog) {
	if entry.UUID == "" {
		entry.UUID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if err := s.db.Create(&entry).Error; err != nil {
		// Best-effort by design: a lost audit row must not break the gate.
		logger.WithFields(map[string]interface{}{"site_id": entry.SiteID, "error": err.Error()}).
			Error("audit write failed")
	}
}

// Query returns one page of audit rows matching the filter, newest first.
func (s *AuditService) Query(filter AuditFilter) (*AuditPage, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	q := s.filtered(filter)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, err
	}

	var logs []models.AccessLog
	if err := q.Order("timestamp desc").
		Limit(filter.Limit).
		Offset((filter.Page - 1) * filter.Limit).
		Find(&logs).Error; err != nil {
		return nil, err
	}

	totalPages := int((total + int64(filter.Limit) - 1) / int64(filter.Limit))
	return &AuditPage{
		Logs: logs,
		Pagination: Pagination{
			Page:       filter.Page,
			Limit:      filter.Limit,
			Total:      total,
			TotalPages: totalPages,
		},
	}, nil
}

// ExportCSV streams all rows matching the filter as CSV, ignoring the
// filter's page and limit. encoding/csv applies RFC4180 quoting.
func (s *AuditService) ExportCSV(w io.Writer, filter AuditFilter) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	filter.Limit = exportPageSize
	for page := 1; ; page++ {
		filter.Page = page
		result, err := s.Query(filter)
		if err != nil {
			return err
		}
		for _, row := range result.Logs {
			if err := cw.Write(csvRow(row)); err != nil {
				return err
			}
		}
		if len(result.Logs) < exportPageSize {
			break
		}
	}

	cw.Flush()
	return cw.Error()
}

// AttachScreenshot links a stored screenshot to its audit row. The row is
// matched by UUID first; when the UUID row is not yet visible the fallback
// matches site and a ±1 second timestamp window, which can be ambiguous under
// concurrent denials for the same site.
func (s *AuditService) AttachScreenshot(logUUID string, siteID uint, ts time.Time, screenshotURL string) error {
	if logUUID != "" {
		res := s.db.Model(&models.AccessLog{}).
			Where("uuid = ?", logUUID).
			Update("screenshot_url", screenshotURL)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
	}

	res := s.db.Model(&models.AccessLog{}).
		Where("site_id = ? AND allowed = ? AND screenshot_url = ? AND timestamp BETWEEN ? AND ?",
			siteID, false, "", ts.Add(-time.Second), ts.Add(time.Second)).
		Update("screenshot_url", screenshotURL)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("no audit row found for site %d around %s", siteID, ts.Format(time.RFC3339))
	}
	return nil
}

// PruneOlderThan removes audit rows past the retention horizon. Returns the
// number of rows deleted.
func (s *AuditService) PruneOlderThan(days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	res := s.db.Where("timestamp < ?", cutoff).Delete(&models.AccessLog{})
	return res.RowsAffected, res.Error
}

func (s *AuditService) filtered(filter AuditFilter) *gorm.DB {
	q := s.db.Model(&models.AccessLog{})
	if filter.SiteID != 0 {
		q = q.Where("site_id = ?", filter.SiteID)
	}
	if filter.Allowed != nil {
		q = q.Where("allowed = ?", *filter.Allowed)
	}
	if !filter.From.IsZero() {
		q = q.Where("timestamp >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		q = q.Where("timestamp <= ?", filter.To)
	}
	if filter.IPContains != "" {
		q = q.Where("ip_address LIKE ?", "%"+filter.IPContains+"%")
	}
	return q
}

func csvRow(row models.AccessLog) []string {
	return []string{
		strconv.FormatUint(uint64(row.ID), 10),
		strconv.FormatUint(uint64(row.SiteID), 10),
		row.Timestamp.UTC().Format(time.RFC3339),
		row.IPAddress,
		row.UserAgent,
		row.URL,
		strconv.FormatBool(row.Allowed),
		row.Reason,
		row.IPCountry,
		row.IPCity,
		formatFloatPtr(row.IPLat),
		formatFloatPtr(row.IPLng),
		formatFloatPtr(row.GPSLat),
		formatFloatPtr(row.GPSLng),
		formatFloatPtr(row.GPSAccuracy),
		row.ScreenshotURL,
	}
}

func formatFloatPtr(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
