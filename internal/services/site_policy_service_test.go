package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/japperJ/geogate/internal/models"
)

type recordingInvalidator struct {
	mu        sync.Mutex
	hostnames []string
}

func (r *recordingInvalidator) Invalidate(ctx context.Context, hostname string) error {
	r.mu.Lock()
	r.hostnames = append(r.hostnames, hostname)
	r.mu.Unlock()
	return nil
}

func (r *recordingInvalidator) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.hostnames...)
}

func validPolicy() *models.SitePolicy {
	return &models.SitePolicy{
		Hostname:   "example.com",
		Enabled:    true,
		AccessMode: models.AccessModeIPOnly,
		IPDenylist: `["203.0.113.10", "10.0.0.0/8"]`,
	}
}

func TestSitePolicyService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("valid policy is persisted with uuid and slug", func(t *testing.T) {
		db := setupTestDB(t)
		inv := &recordingInvalidator{}
		s := NewSitePolicyService(db, inv)

		policy := validPolicy()
		assert.NoError(t, s.Create(ctx, policy))
		assert.NotZero(t, policy.ID)
		assert.NotEmpty(t, policy.UUID)
		assert.Equal(t, "example-com", policy.Slug)
		assert.Equal(t, []string{"example.com"}, inv.all())
	})

	t.Run("hostname is required", func(t *testing.T) {
		s := NewSitePolicyService(setupTestDB(t), nil)
		policy := validPolicy()
		policy.Hostname = "  "
		assert.ErrorIs(t, s.Create(ctx, policy), ErrHostnameRequired)
	})

	t.Run("unknown access mode is rejected", func(t *testing.T) {
		s := NewSitePolicyService(setupTestDB(t), nil)
		policy := validPolicy()
		policy.AccessMode = "everything"
		assert.ErrorIs(t, s.Create(ctx, policy), ErrInvalidAccessMode)
	})

	t.Run("malformed IP rule is rejected", func(t *testing.T) {
		s := NewSitePolicyService(setupTestDB(t), nil)
		policy := validPolicy()
		policy.IPDenylist = `["203.0.113.999"]`
		assert.ErrorIs(t, s.Create(ctx, policy), ErrInvalidIPRule)
	})

	t.Run("malformed country code is rejected", func(t *testing.T) {
		s := NewSitePolicyService(setupTestDB(t), nil)
		policy := validPolicy()
		policy.CountryDenylist = "DE,Germany"
		assert.ErrorIs(t, s.Create(ctx, policy), ErrInvalidCountryCode)
	})

	t.Run("radius fence needs a positive radius", func(t *testing.T) {
		s := NewSitePolicyService(setupTestDB(t), nil)
		policy := validPolicy()
		policy.GeofenceType = models.GeofenceRadius
		policy.GeofenceRadius = 0
		assert.ErrorIs(t, s.Create(ctx, policy), ErrInvalidGeofence)
	})

	t.Run("polygon fence needs at least three points", func(t *testing.T) {
		s := NewSitePolicyService(setupTestDB(t), nil)
		policy := validPolicy()
		policy.GeofenceType = models.GeofencePolygon
		policy.GeofencePolygon = `[[-74.02, 40.70], [-74.00, 40.70]]`
		assert.ErrorIs(t, s.Create(ctx, policy), ErrInvalidGeofence)
	})
}

func TestSitePolicyService_GetByHostname(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	s := NewSitePolicyService(db, nil)
	assert.NoError(t, s.Create(ctx, validPolicy()))

	t.Run("known hostname", func(t *testing.T) {
		policy, err := s.GetByHostname(ctx, "example.com")
		assert.NoError(t, err)
		assert.NotNil(t, policy)
	})

	t.Run("unknown hostname is nil without error", func(t *testing.T) {
		policy, err := s.GetByHostname(ctx, "nobody.example")
		assert.NoError(t, err)
		assert.Nil(t, policy)
	})
}

func TestSitePolicyService_Update(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	inv := &recordingInvalidator{}
	s := NewSitePolicyService(db, inv)

	policy := validPolicy()
	assert.NoError(t, s.Create(ctx, policy))

	t.Run("hostname change invalidates both hostnames", func(t *testing.T) {
		updates := validPolicy()
		updates.Hostname = "renamed.example"
		assert.NoError(t, s.Update(ctx, policy.ID, updates))

		hostnames := inv.all()
		assert.Contains(t, hostnames, "example.com")
		assert.Contains(t, hostnames, "renamed.example")

		fetched, err := s.GetByID(policy.ID)
		assert.NoError(t, err)
		assert.Equal(t, "renamed.example", fetched.Hostname)
	})

	t.Run("invalid updates are rejected before persisting", func(t *testing.T) {
		updates := validPolicy()
		updates.AccessMode = "bogus"
		assert.ErrorIs(t, s.Update(ctx, policy.ID, updates), ErrInvalidAccessMode)
	})

	t.Run("unknown id", func(t *testing.T) {
		assert.ErrorIs(t, s.Update(ctx, 999, validPolicy()), ErrSiteNotFound)
	})
}

func TestSitePolicyService_Delete(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	inv := &recordingInvalidator{}
	s := NewSitePolicyService(db, inv)

	policy := validPolicy()
	assert.NoError(t, s.Create(ctx, policy))

	assert.NoError(t, s.Delete(ctx, policy.ID))
	assert.Contains(t, inv.all(), "example.com")

	_, err := s.GetByID(policy.ID)
	assert.ErrorIs(t, err, ErrSiteNotFound)

	t.Run("unknown id", func(t *testing.T) {
		assert.ErrorIs(t, s.Delete(ctx, 999), ErrSiteNotFound)
	})
}

func TestSitePolicyService_List(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	s := NewSitePolicyService(db, nil)

	a := validPolicy()
	assert.NoError(t, s.Create(ctx, a))
	b := validPolicy()
	b.Hostname = "second.example"
	assert.NoError(t, s.Create(ctx, b))

	policies, err := s.List()
	assert.NoError(t, err)
	assert.Len(t, policies, 2)
}
