package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/japperJ/geogate/internal/ipmatch"
	"github.com/japperJ/geogate/internal/logger"
	"github.com/japperJ/geogate/internal/models"
)

var (
	ErrSiteNotFound       = errors.New("site policy not found")
	ErrInvalidAccessMode  = errors.New("invalid access mode")
	ErrInvalidIPRule      = errors.New("invalid IP address or CIDR rule")
	ErrInvalidCountryCode = errors.New("invalid country code")
	ErrInvalidGeofence    = errors.New("invalid geofence configuration")
	ErrHostnameRequired   = errors.New("hostname is required")
)

var validAccessModes = []string{
	models.AccessModeDisabled,
	models.AccessModeIPOnly,
	models.AccessModeGeoOnly,
	models.AccessModeIPAndGeo,
}

var countryCodeRe = regexp.MustCompile(`^[A-Z]{2}$`)

// Invalidator evicts a hostname from the policy cache tiers. Satisfied by
// cache.PolicyCache.
type Invalidator interface {
	Invalidate(ctx context.Context, hostname string) error
}

// SitePolicyService owns site policy persistence and keeps the policy cache
// coherent: every mutation invalidates the cached entry for the hostname.
type SitePolicyService struct {
	db    *gorm.DB
	cache Invalidator
}

// NewSitePolicyService returns a service over the given DB. cache may be nil
// when no cache is wired (tests).
func NewSitePolicyService(db *gorm.DB, cache Invalidator) *SitePolicyService {
	return &SitePolicyService{db: db, cache: cache}
}

// AttachCache wires the policy cache after construction. The service is the
// cache's loader, so the two are built in sequence at startup.
func (s *SitePolicyService) AttachCache(cache Invalidator) {
	s.cache = cache
}

// Create validates and persists a new site policy.
func (s *SitePolicyService) Create(ctx context.Context, policy *models.SitePolicy) error {
	if err := s.validate(policy); err != nil {
		return err
	}

	policy.UUID = uuid.NewString()
	if policy.Slug == "" {
		policy.Slug = slugify(policy.Hostname)
	}
	if err := s.db.Create(policy).Error; err != nil {
		return err
	}

	s.invalidate(ctx, policy.Hostname)
	return nil
}

// GetByID retrieves a site policy by primary key.
func (s *SitePolicyService) GetByID(id uint) (*models.SitePolicy, error) {
	var policy models.SitePolicy
	if err := s.db.First(&policy, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSiteNotFound
		}
		return nil, err
	}
	return &policy, nil
}

// GetByHostname retrieves a site policy by hostname. Returns (nil, nil) for
// unknown hostnames so the cache loader can distinguish absence from failure.
func (s *SitePolicyService) GetByHostname(ctx context.Context, hostname string) (*models.SitePolicy, error) {
	var policy models.SitePolicy
	if err := s.db.WithContext(ctx).Where("hostname = ?", hostname).First(&policy).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &policy, nil
}

// List retrieves all site policies sorted by updated_at desc.
func (s *SitePolicyService) List() ([]models.SitePolicy, error) {
	var policies []models.SitePolicy
	if err := s.db.Order("updated_at desc").Find(&policies).Error; err != nil {
		return nil, err
	}
	return policies, nil
}

// Update validates and saves changes to an existing policy. Both the old and
// new hostname are invalidated in case the policy moved between hosts.
func (s *SitePolicyService) Update(ctx context.Context, id uint, updates *models.SitePolicy) error {
	policy, err := s.GetByID(id)
	if err != nil {
		return err
	}
	previousHostname := policy.Hostname

	policy.Slug = updates.Slug
	policy.Hostname = updates.Hostname
	policy.Enabled = updates.Enabled
	policy.AccessMode = updates.AccessMode
	policy.IPAllowlist = updates.IPAllowlist
	policy.IPDenylist = updates.IPDenylist
	policy.CountryAllowlist = updates.CountryAllowlist
	policy.CountryDenylist = updates.CountryDenylist
	policy.BlockVPN = updates.BlockVPN
	policy.GeofenceType = updates.GeofenceType
	policy.GeofencePolygon = updates.GeofencePolygon
	policy.GeofenceLat = updates.GeofenceLat
	policy.GeofenceLng = updates.GeofenceLng
	policy.GeofenceRadius = updates.GeofenceRadius

	if err := s.validate(policy); err != nil {
		return err
	}
	if err := s.db.Save(policy).Error; err != nil {
		return err
	}

	if previousHostname != policy.Hostname {
		s.invalidate(ctx, previousHostname)
	}
	s.invalidate(ctx, policy.Hostname)
	return nil
}

// Delete removes a site policy and invalidates its cache entry.
func (s *SitePolicyService) Delete(ctx context.Context, id uint) error {
	policy, err := s.GetByID(id)
	if err != nil {
		return err
	}

	if err := s.db.Delete(&models.SitePolicy{}, id).Error; err != nil {
		return err
	}

	s.invalidate(ctx, policy.Hostname)
	return nil
}

func (s *SitePolicyService) invalidate(ctx context.Context, hostname string) {
	if s.cache == nil || hostname == "" {
		return
	}
	if err := s.cache.Invalidate(ctx, hostname); err != nil {
		logger.WithFields(map[string]interface{}{"hostname": hostname, "error": err.Error()}).
			Warn("policy cache invalidation failed; stale reads possible until TTL")
	}
}

func (s *SitePolicyService) validate(policy *models.SitePolicy) error {
	if strings.TrimSpace(policy.Hostname) == "" {
		return ErrHostnameRequired
	}

	valid := false
	for _, mode := range validAccessModes {
		if policy.AccessMode == mode {
			valid = true
			break
		}
	}
	if !valid {
		return ErrInvalidAccessMode
	}

	for _, entry := range append(policy.IPAllowEntries(), policy.IPDenyEntries()...) {
		if !ipmatch.IsValidEntry(entry) {
			return fmt.Errorf("%w: %s", ErrInvalidIPRule, entry)
		}
	}

	for _, code := range append(policy.CountryAllowCodes(), policy.CountryDenyCodes()...) {
		if !countryCodeRe.MatchString(code) {
			return fmt.Errorf("%w: %s", ErrInvalidCountryCode, code)
		}
	}

	switch policy.GeofenceType {
	case models.GeofenceNone:
	case models.GeofenceRadius:
		if policy.GeofenceRadius <= 0 {
			return fmt.Errorf("%w: radius must be positive", ErrInvalidGeofence)
		}
	case models.GeofencePolygon:
		if len(policy.PolygonRing()) < 3 {
			return fmt.Errorf("%w: polygon needs at least 3 points", ErrInvalidGeofence)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidGeofence, policy.GeofenceType)
	}

	return nil
}

func slugify(hostname string) string {
	return strings.ReplaceAll(strings.ToLower(hostname), ".", "-")
}
