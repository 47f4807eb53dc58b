// Package gate implements the layered access decision engine: the IP stage
// (denylist, allowlist, country, VPN checks) followed by the GPS stage
// (validation, IP cross-check, geofence), with fire-and-forget audit logging
// and evidence capture on denial.
package gate

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/japperJ/geogate/internal/cache"
	"github.com/japperJ/geogate/internal/geo"
	"github.com/japperJ/geogate/internal/geoip"
	"github.com/japperJ/geogate/internal/ipmatch"
	"github.com/japperJ/geogate/internal/logger"
	"github.com/japperJ/geogate/internal/metrics"
	"github.com/japperJ/geogate/internal/models"
)

// Decision is the immutable outcome of evaluating one request.
type Decision struct {
	Allowed    bool     `json:"allowed"`
	Reason     string   `json:"reason"`
	Message    string   `json:"message"`
	Country    string   `json:"country,omitempty"`
	City       string   `json:"city,omitempty"`
	IPLat      float64  `json:"ip_lat,omitempty"`
	IPLng      float64  `json:"ip_lng,omitempty"`
	DistanceKM *float64 `json:"distance_km,omitempty"`
	LogUUID    string   `json:"-"`
}

// Auditor records decisions without blocking the caller.
type Auditor interface {
	Log(entry models.AccessLog)
}

// Enqueuer schedules evidence capture for denied requests.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload models.ScreenshotJobPayload) error
}

// Options holds the engine thresholds.
type Options struct {
	MaxGPSAccuracyMeters float64
	MaxGPSIPDistanceKM   float64
	LookupTimeout        time.Duration
}

// Engine evaluates access requests against site policies.
type Engine struct {
	policies *cache.PolicyCache
	resolver geoip.Resolver
	auditor  Auditor
	evidence Enqueuer
	opts     Options
}

// NewEngine wires the decision engine. auditor and evidence may be nil, in
// which case the corresponding side effect is skipped.
func NewEngine(policies *cache.PolicyCache, resolver geoip.Resolver, auditor Auditor, evidence Enqueuer, opts Options) *Engine {
	if opts.MaxGPSAccuracyMeters <= 0 {
		opts.MaxGPSAccuracyMeters = geo.DefaultMaxAccuracyMeters
	}
	if opts.MaxGPSIPDistanceKM <= 0 {
		opts.MaxGPSIPDistanceKM = 500
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = 2 * time.Second
	}
	return &Engine{
		policies: policies,
		resolver: resolver,
		auditor:  auditor,
		evidence: evidence,
		opts:     opts,
	}
}

// stageContext carries the per-request signal availability, resolved once at
// stage entry instead of re-checked at every call site.
type stageContext struct {
	policy       *models.SitePolicy
	clientIP     string
	location     *geoip.Location
	geoAvailable bool
}

// Evaluate runs the full decision pipeline for one request. The returned
// decision is final; auditing and evidence capture happen in the background
// and never delay the caller.
func (e *Engine) Evaluate(ctx context.Context, req Request) Decision {
	policy, err := e.policies.Get(ctx, req.Hostname)
	if err != nil {
		logger.WithFields(map[string]interface{}{"hostname": req.Hostname, "error": err.Error()}).
			Error("policy lookup failed, allowing request")
		return Decision{Allowed: true, Reason: ReasonPassed, Message: ReasonMessage(ReasonPassed)}
	}
	if policy == nil || !policy.Enabled || policy.AccessMode == models.AccessModeDisabled {
		return Decision{Allowed: true, Reason: ReasonPassed, Message: ReasonMessage(ReasonPassed)}
	}

	sc := e.newStageContext(ctx, policy, req)

	decision := Decision{Allowed: true, Reason: ReasonPassed}
	if policy.RequiresIP() {
		decision = e.evaluateIP(ctx, sc)
	}
	if decision.Allowed && policy.RequiresGPS() {
		decision = e.evaluateGPS(sc, req)
	}
	decision.Message = ReasonMessage(decision.Reason)

	metrics.IncDecision(decision.Reason, decision.Allowed)
	decision.LogUUID = e.audit(policy, req, sc, decision)

	if !decision.Allowed {
		e.captureEvidence(policy, req, sc, decision)
	}

	return decision
}

func (e *Engine) newStageContext(ctx context.Context, policy *models.SitePolicy, req Request) *stageContext {
	sc := &stageContext{
		policy:       policy,
		clientIP:     ExtractClientIP(req),
		geoAvailable: e.resolver != nil && e.resolver.Available(),
	}

	if sc.geoAvailable && sc.clientIP != "" {
		lookupCtx, cancel := context.WithTimeout(ctx, e.opts.LookupTimeout)
		defer cancel()

		loc, err := e.resolver.Lookup(lookupCtx, sc.clientIP)
		if err != nil {
			logger.WithFields(map[string]interface{}{"ip": AnonymizeIP(sc.clientIP), "error": err.Error()}).
				Warn("geo lookup failed, country checks degraded")
			sc.geoAvailable = false
		} else {
			sc.location = loc
		}
	}

	return sc
}

// evaluateIP applies the IP stage checks in strict order, short-circuiting on
// the first failure.
func (e *Engine) evaluateIP(ctx context.Context, sc *stageContext) Decision {
	if sc.clientIP == "" {
		return deny(ReasonIPExtractionFailed, sc)
	}

	policy := sc.policy

	if denylist := policy.IPDenyEntries(); len(denylist) > 0 && ipmatch.Match(sc.clientIP, denylist) {
		return deny(ReasonIPDenylist, sc)
	}

	if allowlist := policy.IPAllowEntries(); len(allowlist) > 0 && !ipmatch.Match(sc.clientIP, allowlist) {
		return deny(ReasonIPNotInAllowlist, sc)
	}

	// Country checks need a successful lookup; a degraded resolver skips the
	// denylist but an allowlist still blocks unresolved countries.
	countryCode := ""
	if sc.location != nil {
		countryCode = sc.location.CountryCode
	}

	if denyC := policy.CountryDenyCodes(); len(denyC) > 0 && countryCode != "" && contains(denyC, countryCode) {
		return deny(ReasonCountryBlocked, sc)
	}

	if allowC := policy.CountryAllowCodes(); len(allowC) > 0 && !contains(allowC, countryCode) {
		return deny(ReasonCountryNotAllowed, sc)
	}

	if policy.BlockVPN && e.resolver != nil && e.resolver.Anonymous(ctx, sc.clientIP).Any() {
		return deny(ReasonVPNProxyDetected, sc)
	}

	return allow(sc)
}

// evaluateGPS applies the GPS stage checks: presence, validation, IP
// cross-check, geofence.
func (e *Engine) evaluateGPS(sc *stageContext, req Request) Decision {
	if req.GPSParseErr != nil {
		return deny(ReasonGPSInvalid, sc)
	}
	if req.GPS == nil {
		return deny(ReasonGPSRequired, sc)
	}
	fix := *req.GPS

	if err := geo.ValidateFix(fix, e.opts.MaxGPSAccuracyMeters); err != nil {
		return deny(ReasonGPSInvalid, sc)
	}

	if sc.geoAvailable {
		var ipPoint *geo.Point
		if sc.location != nil && sc.location.HasCoords {
			ipPoint = &geo.Point{Lat: sc.location.Lat, Lng: sc.location.Lng}
		}
		if res := geo.CrossCheck(fix, ipPoint, e.opts.MaxGPSIPDistanceKM); !res.OK {
			d := deny(ReasonGPSIPMismatch, sc)
			d.DistanceKM = &res.DistanceKM
			return d
		}
	} else {
		logger.WithFields(map[string]interface{}{"hostname": sc.policy.Hostname}).
			Debug("geo lookup unavailable, skipping GPS-IP cross-check")
	}

	if sc.policy.GeofenceType != models.GeofenceNone {
		fence := geo.Fence{
			Type:     sc.policy.GeofenceType,
			Center:   geo.Point{Lat: sc.policy.GeofenceLat, Lng: sc.policy.GeofenceLng},
			RadiusKM: sc.policy.GeofenceRadius,
			Ring:     sc.policy.PolygonRing(),
		}
		result, err := geo.EvaluateFence(fence, fix)
		if err != nil {
			logger.WithFields(map[string]interface{}{"hostname": sc.policy.Hostname, "type": fence.Type}).
				Warn("geofence misconfigured")
			return deny(ReasonInvalidGeofenceConfig, sc)
		}
		if !result.Allowed {
			d := deny(ReasonOutsideGeofence, sc)
			d.DistanceKM = &result.DistanceKM
			return d
		}
		d := allow(sc)
		d.DistanceKM = &result.DistanceKM
		return d
	}

	return allow(sc)
}

func (e *Engine) audit(policy *models.SitePolicy, req Request, sc *stageContext, decision Decision) string {
	if e.auditor == nil {
		return ""
	}

	entry := models.AccessLog{
		UUID:      uuid.NewString(),
		SiteID:    policy.ID,
		Timestamp: time.Now().UTC(),
		IPAddress: AnonymizeIP(sc.clientIP),
		UserAgent: req.UserAgent,
		URL:       req.URL,
		Allowed:   decision.Allowed,
		Reason:    decision.Reason,
		IPCountry: decision.Country,
		IPCity:    decision.City,
	}
	if sc.location != nil && sc.location.HasCoords {
		lat, lng := sc.location.Lat, sc.location.Lng
		entry.IPLat = &lat
		entry.IPLng = &lng
	}
	if req.GPS != nil {
		lat, lng := req.GPS.Lat, req.GPS.Lng
		entry.GPSLat = &lat
		entry.GPSLng = &lng
		entry.GPSAccuracy = req.GPS.Accuracy
	}

	e.auditor.Log(entry)
	return entry.UUID
}

func (e *Engine) captureEvidence(policy *models.SitePolicy, req Request, sc *stageContext, decision Decision) {
	if e.evidence == nil {
		return
	}

	payload := models.ScreenshotJobPayload{
		SiteID:    policy.ID,
		URL:       req.URL,
		Reason:    decision.Reason,
		LogUUID:   decision.LogUUID,
		IPAddress: AnonymizeIP(sc.clientIP),
		Timestamp: time.Now().UTC(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.evidence.Enqueue(ctx, payload); err != nil {
			logger.WithFields(map[string]interface{}{"site_id": payload.SiteID, "error": err.Error()}).
				Error("enqueue evidence capture")
		}
	}()
}

func deny(reason string, sc *stageContext) Decision {
	return withLocation(Decision{Allowed: false, Reason: reason}, sc)
}

func allow(sc *stageContext) Decision {
	return withLocation(Decision{Allowed: true, Reason: ReasonPassed}, sc)
}

func withLocation(d Decision, sc *stageContext) Decision {
	if sc.location != nil {
		d.Country = sc.location.CountryCode
		d.City = sc.location.City
		d.IPLat = sc.location.Lat
		d.IPLng = sc.location.Lng
	}
	return d
}

func contains(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
