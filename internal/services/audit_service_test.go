package services

import (
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/japperJ/geogate/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&models.SitePolicy{}, &models.AccessLog{}))
	return db
}

func newSyncAuditService(t *testing.T, db *gorm.DB) *AuditService {
	t.Helper()
	s := NewAuditService(db, 16)
	s.SetSynchronous(true)
	t.Cleanup(s.Close)
	return s
}

func boolPtr(b bool) *bool    { return &b }
func fPtr(f float64) *float64 { return &f }

func TestAuditService_Log(t *testing.T) {
	db := setupTestDB(t)
	s := newSyncAuditService(t, db)

	s.Log(models.AccessLog{SiteID: 1, Allowed: false, Reason: "ip_denylist", IPAddress: "203.0.113.0"})

	var rows []models.AccessLog
	assert.NoError(t, db.Find(&rows).Error)
	assert.Len(t, rows, 1)
	assert.NotEmpty(t, rows[0].UUID, "missing UUIDs are filled in on write")
	assert.False(t, rows[0].Timestamp.IsZero())
	assert.Equal(t, "ip_denylist", rows[0].Reason)
}

func TestAuditService_Query(t *testing.T) {
	db := setupTestDB(t)
	s := newSyncAuditService(t, db)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s.Log(models.AccessLog{
			SiteID:    1,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Allowed:   i%2 == 0,
			Reason:    "passed",
			IPAddress: "203.0.113.0",
		})
	}
	s.Log(models.AccessLog{SiteID: 2, Timestamp: base, Allowed: false, Reason: "ip_denylist", IPAddress: "198.51.100.0"})

	t.Run("newest first", func(t *testing.T) {
		page, err := s.Query(AuditFilter{SiteID: 1})
		assert.NoError(t, err)
		assert.Len(t, page.Logs, 5)
		assert.True(t, page.Logs[0].Timestamp.After(page.Logs[4].Timestamp))
	})

	t.Run("filter by site", func(t *testing.T) {
		page, err := s.Query(AuditFilter{SiteID: 2})
		assert.NoError(t, err)
		assert.Len(t, page.Logs, 1)
		assert.Equal(t, int64(1), page.Pagination.Total)
	})

	t.Run("filter by allowed", func(t *testing.T) {
		page, err := s.Query(AuditFilter{SiteID: 1, Allowed: boolPtr(false)})
		assert.NoError(t, err)
		assert.Len(t, page.Logs, 2)
	})

	t.Run("filter by time window", func(t *testing.T) {
		page, err := s.Query(AuditFilter{
			SiteID: 1,
			From:   base.Add(time.Minute),
			To:     base.Add(3 * time.Minute),
		})
		assert.NoError(t, err)
		assert.Len(t, page.Logs, 3)
	})

	t.Run("filter by IP fragment", func(t *testing.T) {
		page, err := s.Query(AuditFilter{IPContains: "198.51"})
		assert.NoError(t, err)
		assert.Len(t, page.Logs, 1)
	})

	t.Run("pagination", func(t *testing.T) {
		page, err := s.Query(AuditFilter{SiteID: 1, Page: 2, Limit: 2})
		assert.NoError(t, err)
		assert.Len(t, page.Logs, 2)
		assert.Equal(t, 2, page.Pagination.Page)
		assert.Equal(t, int64(5), page.Pagination.Total)
		assert.Equal(t, 3, page.Pagination.TotalPages)
	})
}

func TestAuditService_ExportCSV(t *testing.T) {
	db := setupTestDB(t)
	s := newSyncAuditService(t, db)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		s.Log(models.AccessLog{
			SiteID:    1,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Allowed:   false,
			Reason:    "outside_geofence",
			IPAddress: "203.0.113.0",
			UserAgent: `Mozilla/5.0 ("quoted", comma)`,
			GPSLat:    fPtr(40.7128),
			GPSLng:    fPtr(-74.006),
		})
	}

	var sb strings.Builder
	assert.NoError(t, s.ExportCSV(&sb, AuditFilter{SiteID: 1}))

	lines := strings.Split(strings.TrimRight(sb.String(), "\n"), "\n")
	assert.Len(t, lines, 4, "header plus one line per row")
	assert.True(t, strings.HasPrefix(lines[0], "id,site_id,timestamp,ip_address"))
	assert.Contains(t, lines[1], `"Mozilla/5.0 (""quoted"", comma)"`, "embedded commas and quotes must be escaped")
	assert.Contains(t, lines[1], "40.7128")
}

func TestAuditService_ExportCSV_ZeroCoordinates(t *testing.T) {
	db := setupTestDB(t)
	s := newSyncAuditService(t, db)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// A lookup that resolved to (0, 0) must export as 0, not as a blank cell.
	s.Log(models.AccessLog{SiteID: 1, Timestamp: ts.Add(time.Minute), Reason: "passed",
		IPLat: fPtr(0), IPLng: fPtr(0)})
	s.Log(models.AccessLog{SiteID: 1, Timestamp: ts, Reason: "passed"})

	var sb strings.Builder
	assert.NoError(t, s.ExportCSV(&sb, AuditFilter{}))

	records, err := csv.NewReader(strings.NewReader(sb.String())).ReadAll()
	assert.NoError(t, err)
	assert.Len(t, records, 3)

	latCol, lngCol := 10, 11
	assert.Equal(t, "ip_lat", records[0][latCol])
	assert.Equal(t, "ip_lng", records[0][lngCol])
	assert.Equal(t, "0", records[1][latCol], "resolved origin coordinate")
	assert.Equal(t, "0", records[1][lngCol])
	assert.Equal(t, "", records[2][latCol], "unresolved location stays blank")
	assert.Equal(t, "", records[2][lngCol])
}

func TestAuditService_AttachScreenshot(t *testing.T) {
	db := setupTestDB(t)
	s := newSyncAuditService(t, db)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("matches by UUID", func(t *testing.T) {
		s.Log(models.AccessLog{UUID: "uuid-1", SiteID: 1, Timestamp: ts, Allowed: false, Reason: "ip_denylist"})

		assert.NoError(t, s.AttachScreenshot("uuid-1", 1, ts, "s3://evidence/a.png"))

		var row models.AccessLog
		assert.NoError(t, db.Where("uuid = ?", "uuid-1").First(&row).Error)
		assert.Equal(t, "s3://evidence/a.png", row.ScreenshotURL)
	})

	t.Run("falls back to the timestamp window", func(t *testing.T) {
		s.Log(models.AccessLog{UUID: "uuid-2", SiteID: 2, Timestamp: ts, Allowed: false, Reason: "ip_denylist"})

		assert.NoError(t, s.AttachScreenshot("missing-uuid", 2, ts.Add(500*time.Millisecond), "s3://evidence/b.png"))

		var row models.AccessLog
		assert.NoError(t, db.Where("uuid = ?", "uuid-2").First(&row).Error)
		assert.Equal(t, "s3://evidence/b.png", row.ScreenshotURL)
	})

	t.Run("window fallback never touches allowed rows", func(t *testing.T) {
		s.Log(models.AccessLog{UUID: "uuid-3", SiteID: 3, Timestamp: ts, Allowed: true, Reason: "passed"})

		err := s.AttachScreenshot("missing-uuid", 3, ts, "s3://evidence/c.png")
		assert.Error(t, err)
	})

	t.Run("no matching row is an error", func(t *testing.T) {
		err := s.AttachScreenshot("missing-uuid", 99, ts, "s3://evidence/d.png")
		assert.Error(t, err)
	})
}

func TestAuditService_PruneOlderThan(t *testing.T) {
	db := setupTestDB(t)
	s := newSyncAuditService(t, db)

	s.Log(models.AccessLog{SiteID: 1, Timestamp: time.Now().UTC().AddDate(0, 0, -100), Reason: "passed"})
	s.Log(models.AccessLog{SiteID: 1, Timestamp: time.Now().UTC(), Reason: "passed"})

	pruned, err := s.PruneOlderThan(90)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	var count int64
	assert.NoError(t, db.Model(&models.AccessLog{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	t.Run("non-positive retention is a no-op", func(t *testing.T) {
		pruned, err := s.PruneOlderThan(0)
		assert.NoError(t, err)
		assert.Equal(t, int64(0), pruned)
	})
}

func TestAuditService_AsyncWritesDrainOnClose(t *testing.T) {
	db := setupTestDB(t)
	s := NewAuditService(db, 16)

	for i := 0; i < 10; i++ {
		s.Log(models.AccessLog{SiteID: 1, Reason: "passed"})
	}
	s.Close()

	var count int64
	assert.NoError(t, db.Model(&models.AccessLog{}).Count(&count).Error)
	assert.Equal(t, int64(10), count)
}
