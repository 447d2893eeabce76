package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInvitationStatusAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	accepted := now.Add(-time.Hour)

	cases := []struct {
		name string
		inv  Invitation
		want InvitationStatus
	}{
		{"pending", Invitation{ExpiresAt: now.Add(time.Hour)}, InvitationPending},
		{"expired", Invitation{ExpiresAt: now.Add(-time.Second)}, InvitationExpired},
		{"accepted before expiry", Invitation{ExpiresAt: now.Add(time.Hour), AcceptedAt: &accepted}, InvitationAccepted},
		{"accepted then expired", Invitation{ExpiresAt: now.Add(-time.Minute), AcceptedAt: &accepted}, InvitationAccepted},
		{"exactly at expiry", Invitation{ExpiresAt: now}, InvitationPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.inv.StatusAt(now))
		})
	}
}

func TestProfileColumnsRoundTrip(t *testing.T) {
	b, s := BrandProfile("brand-1").Columns()
	if assert.NotNil(t, b) {
		assert.Equal(t, "brand-1", *b)
	}
	assert.Nil(t, s)

	p, ok := ProfileFromColumns(OrganisationBrand, b, s)
	assert.True(t, ok)
	assert.Equal(t, BrandProfile("brand-1"), p)

	// a supplier organisation cannot carry a brand id
	_, ok = ProfileFromColumns(OrganisationSupplier, b, s)
	assert.False(t, ok)

	id := "x"
	_, ok = ProfileFromColumns(OrganisationBrand, &id, &id)
	assert.False(t, ok)
}

func TestRoleHelpers(t *testing.T) {
	assert.True(t, RoleAdmin.Invitable())
	assert.True(t, RoleMember.Invitable())
	assert.False(t, RoleOwner.Invitable())
	assert.False(t, OrgRole("superuser").Valid())
	assert.True(t, OrganisationSupplier.Valid())
	assert.False(t, OrganisationType("distillery").Valid())
}
