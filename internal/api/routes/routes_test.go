package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/japperJ/geogate/internal/cache"
	"github.com/japperJ/geogate/internal/gate"
	"github.com/japperJ/geogate/internal/geoip"
	"github.com/japperJ/geogate/internal/models"
	"github.com/japperJ/geogate/internal/services"
)

type testAPI struct {
	router *gin.Engine
	db     *gorm.DB
	sites  *services.SitePolicyService
	audits *services.AuditService
}

func setupAPI(t *testing.T, resolver geoip.Resolver) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	assert.NoError(t, err)

	sites := services.NewSitePolicyService(db, nil)
	policies, err := cache.New(cache.NewMemoryKV(), cache.NewMemoryBus(), sites.GetByHostname, cache.Options{})
	assert.NoError(t, err)
	sites.AttachCache(policies)
	assert.NoError(t, policies.Start(context.Background()))

	audits := services.NewAuditService(db, 16)
	audits.SetSynchronous(true)
	t.Cleanup(audits.Close)

	engine := gate.NewEngine(policies, resolver, audits, nil, gate.Options{})

	router := gin.New()
	assert.NoError(t, Register(router, Deps{
		DB:       db,
		Engine:   engine,
		Policies: policies,
		Audits:   audits,
		Sites:    sites,
		Registry: prometheus.NewRegistry(),
	}))

	return &testAPI{router: router, db: db, sites: sites, audits: audits}
}

func (a *testAPI) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "192.0.2.1:40000"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthRoute(t *testing.T) {
	api := setupAPI(t, nil)
	w := api.do(http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGateCheckRoute(t *testing.T) {
	api := setupAPI(t, nil)

	policy := &models.SitePolicy{
		Hostname:   "gated.example",
		Enabled:    true,
		AccessMode: models.AccessModeIPOnly,
		IPDenylist: `["203.0.113.10"]`,
	}
	assert.NoError(t, api.sites.Create(context.Background(), policy))

	t.Run("ungated hostname passes", func(t *testing.T) {
		w := api.do(http.MethodGet, "/api/v1/gate/check?hostname=open.example", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("denylisted client is refused with reason", func(t *testing.T) {
		w := api.do(http.MethodGet, "/api/v1/gate/check?hostname=gated.example", "", map[string]string{
			"X-Forwarded-For": "203.0.113.10",
		})
		assert.Equal(t, http.StatusForbidden, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "access denied", body["error"])
		assert.Equal(t, "ip_denylist", body["reason"])
	})

	t.Run("clean client passes and is audited", func(t *testing.T) {
		w := api.do(http.MethodGet, "/api/v1/gate/check?hostname=gated.example", "", map[string]string{
			"X-Forwarded-For": "198.51.100.7",
		})
		assert.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, true, body["allowed"])

		var count int64
		assert.NoError(t, api.db.Model(&models.AccessLog{}).Where("allowed = ?", true).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("malformed GPS body does not gate an ip-only site", func(t *testing.T) {
		w := api.do(http.MethodPost, "/api/v1/gate/check?hostname=gated.example",
			`{"gps_lat": "north"}`, map[string]string{"X-Forwarded-For": "198.51.100.7"})
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestGateCheckRoute_Geofence(t *testing.T) {
	api := setupAPI(t, nil)

	policy := &models.SitePolicy{
		Hostname:       "fenced.example",
		Enabled:        true,
		AccessMode:     models.AccessModeGeoOnly,
		GeofenceType:   models.GeofenceRadius,
		GeofenceLat:    40.7128,
		GeofenceLng:    -74.0060,
		GeofenceRadius: 5,
	}
	assert.NoError(t, api.sites.Create(context.Background(), policy))

	t.Run("no GPS body is refused", func(t *testing.T) {
		w := api.do(http.MethodPost, "/api/v1/gate/check?hostname=fenced.example", "", nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "gps_required", decodeBody(t, w)["reason"])
	})

	t.Run("fix inside the fence passes", func(t *testing.T) {
		w := api.do(http.MethodPost, "/api/v1/gate/check?hostname=fenced.example",
			`{"gps_lat": 40.7128, "gps_lng": -74.006, "gps_accuracy": 10}`, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("fix outside the fence is refused with distance", func(t *testing.T) {
		w := api.do(http.MethodPost, "/api/v1/gate/check?hostname=fenced.example",
			`{"gps_lat": 40.7589, "gps_lng": -73.9851, "gps_accuracy": 10}`, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "outside_geofence", body["reason"])
		assert.Greater(t, body["distance_km"], 5.0)
	})

	t.Run("malformed GPS body is refused and audited", func(t *testing.T) {
		w := api.do(http.MethodPost, "/api/v1/gate/check?hostname=fenced.example",
			`{"gps_lat": "north", "gps_lng": -74}`, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "gps_invalid", decodeBody(t, w)["reason"])

		var count int64
		assert.NoError(t, api.db.Model(&models.AccessLog{}).
			Where("reason = ? AND allowed = ?", "gps_invalid", false).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})
}

func TestSiteRoutes(t *testing.T) {
	api := setupAPI(t, nil)

	var created models.SitePolicy
	t.Run("create", func(t *testing.T) {
		w := api.do(http.MethodPost, "/api/v1/sites",
			`{"hostname": "example.com", "enabled": true, "access_mode": "ip_only"}`, nil)
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
		assert.NotZero(t, created.ID)
	})

	t.Run("create with invalid mode", func(t *testing.T) {
		w := api.do(http.MethodPost, "/api/v1/sites",
			`{"hostname": "bad.example", "access_mode": "bogus"}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("list", func(t *testing.T) {
		w := api.do(http.MethodGet, "/api/v1/sites", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		var policies []models.SitePolicy
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &policies))
		assert.Len(t, policies, 1)
	})

	t.Run("get", func(t *testing.T) {
		w := api.do(http.MethodGet, fmt.Sprintf("/api/v1/sites/%d", created.ID), "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("get unknown id", func(t *testing.T) {
		w := api.do(http.MethodGet, "/api/v1/sites/999", "", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("update takes effect on the gate immediately", func(t *testing.T) {
		w := api.do(http.MethodPut, fmt.Sprintf("/api/v1/sites/%d", created.ID),
			`{"hostname": "example.com", "enabled": true, "access_mode": "ip_only", "ip_denylist": "[\"192.0.2.1\"]"}`, nil)
		assert.Equal(t, http.StatusOK, w.Code)

		check := api.do(http.MethodGet, "/api/v1/gate/check?hostname=example.com", "", nil)
		assert.Equal(t, http.StatusForbidden, check.Code, "cache invalidation must expose the new denylist")
	})

	t.Run("delete", func(t *testing.T) {
		w := api.do(http.MethodDelete, fmt.Sprintf("/api/v1/sites/%d", created.ID), "", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		w = api.do(http.MethodDelete, fmt.Sprintf("/api/v1/sites/%d", created.ID), "", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestLogRoutes(t *testing.T) {
	api := setupAPI(t, nil)
	api.audits.Log(models.AccessLog{SiteID: 1, Allowed: false, Reason: "ip_denylist", IPAddress: "203.0.113.0"})
	api.audits.Log(models.AccessLog{SiteID: 2, Allowed: true, Reason: "passed", IPAddress: "198.51.100.0"})

	t.Run("list with filter", func(t *testing.T) {
		w := api.do(http.MethodGet, "/api/v1/logs?allowed=false", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		logs := body["logs"].([]interface{})
		assert.Len(t, logs, 1)
	})

	t.Run("bad filter value", func(t *testing.T) {
		w := api.do(http.MethodGet, "/api/v1/logs?allowed=maybe", "", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("csv export", func(t *testing.T) {
		w := api.do(http.MethodGet, "/api/v1/logs/export", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
		lines := strings.Split(strings.TrimRight(w.Body.String(), "\n"), "\n")
		assert.Len(t, lines, 3)
	})
}

func TestCacheStatsRoute(t *testing.T) {
	api := setupAPI(t, nil)
	assert.NoError(t, api.sites.Create(context.Background(), &models.SitePolicy{
		Hostname:   "warm.example",
		Enabled:    true,
		AccessMode: models.AccessModeIPOnly,
	}))
	api.do(http.MethodGet, "/api/v1/gate/check?hostname=warm.example", "", nil)
	api.do(http.MethodGet, "/api/v1/gate/check?hostname=warm.example", "", nil)

	w := api.do(http.MethodGet, "/api/v1/cache/stats", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, 1.0, body["source_hits"])
	assert.Equal(t, 1.0, body["memory_hits"])
}

func TestMetricsRoute(t *testing.T) {
	api := setupAPI(t, nil)
	w := api.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
