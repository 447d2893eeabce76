package database

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"kindred-collective-backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memFixture struct {
	store *MemoryStore
	owner *models.User
	org   *models.Organisation
}

func newMemFixture(t *testing.T, dataDir string) memFixture {
	t.Helper()
	store, err := NewMemoryStore(dataDir)
	require.NoError(t, err)

	ctx := context.Background()
	owner := &models.User{Email: "owner@example.com", Password: "hash", Name: "Olive"}
	require.NoError(t, store.CreateUser(ctx, owner))
	org := &models.Organisation{Name: "Acme", Slug: "acme", Type: models.OrganisationBrand, Profile: models.BrandProfile("brand-1")}
	require.NoError(t, store.CreateOrganisation(ctx, org, &models.Membership{UserID: owner.ID}))
	return memFixture{store: store, owner: owner, org: org}
}

func (f memFixture) addUser(t *testing.T, email string) *models.User {
	t.Helper()
	u := &models.User{Email: email, Password: "hash"}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return u
}

func (f memFixture) invite(t *testing.T, email, token string, role models.OrgRole, expires, now time.Time) *models.Invitation {
	t.Helper()
	inv := &models.Invitation{OrganisationID: f.org.ID, Email: email, Token: token, Role: role, ExpiresAt: expires, CreatedByID: f.owner.ID}
	require.NoError(t, f.store.CreateInvitation(context.Background(), inv, now))
	return inv
}

func TestMemoryCreateOrganisation_Constraints(t *testing.T) {
	f := newMemFixture(t, "")
	ctx := context.Background()

	m, err := f.store.GetMembership(ctx, f.org.ID, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleOwner, m.Role)

	other := f.addUser(t, "other@example.com")
	dupSlug := &models.Organisation{Name: "Acme 2", Slug: "acme", Type: models.OrganisationBrand, Profile: models.BrandProfile("brand-2")}
	assert.ErrorIs(t, f.store.CreateOrganisation(ctx, dupSlug, &models.Membership{UserID: other.ID}), ErrDuplicate)

	dupProfile := &models.Organisation{Name: "Acme 3", Slug: "acme-3", Type: models.OrganisationBrand, Profile: models.BrandProfile("brand-1")}
	assert.ErrorIs(t, f.store.CreateOrganisation(ctx, dupProfile, &models.Membership{UserID: other.ID}), ErrDuplicate)

	exists, err := f.store.SlugExists(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMemoryCreateUser_DuplicateEmail(t *testing.T) {
	f := newMemFixture(t, "")
	err := f.store.CreateUser(context.Background(), &models.User{Email: "owner@example.com"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestMemoryCreateInvitation_ReplacesExpired(t *testing.T) {
	f := newMemFixture(t, "")
	ctx := context.Background()
	now := time.Now()

	f.invite(t, "bo@example.com", "old", models.RoleMember, now.Add(-time.Minute), now.Add(-time.Hour))

	dup := &models.Invitation{OrganisationID: f.org.ID, Email: "bo@example.com", Token: "new", Role: models.RoleMember, ExpiresAt: now.Add(time.Hour), CreatedByID: f.owner.ID}
	require.NoError(t, f.store.CreateInvitation(ctx, dup, now))

	_, err := f.store.GetInvitationByToken(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)

	again := &models.Invitation{OrganisationID: f.org.ID, Email: "bo@example.com", Token: "newer", Role: models.RoleMember, ExpiresAt: now.Add(time.Hour), CreatedByID: f.owner.ID}
	assert.ErrorIs(t, f.store.CreateInvitation(ctx, again, now), ErrLiveInvitation)

	list, err := f.store.ListInvitations(ctx, f.org.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMemoryAcceptInvitation_Order(t *testing.T) {
	f := newMemFixture(t, "")
	ctx := context.Background()
	now := time.Now()
	bo := f.addUser(t, "bo@example.com")

	_, err := f.store.AcceptInvitation(ctx, "nope", bo.ID, now)
	assert.ErrorIs(t, err, ErrNotFound)

	f.invite(t, "bo@example.com", "tok", models.RoleAdmin, now.Add(time.Hour), now)
	m, err := f.store.AcceptInvitation(ctx, "tok", bo.ID, now)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, m.Role)

	_, err = f.store.AcceptInvitation(ctx, "tok", bo.ID, now)
	assert.ErrorIs(t, err, ErrInviteAccepted)

	// expiry is checked before acceptance
	_, err = f.store.AcceptInvitation(ctx, "tok", bo.ID, now.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrInviteExpired)

	f.invite(t, "owner@example.com", "self", models.RoleMember, now.Add(time.Hour), now)
	_, err = f.store.AcceptInvitation(ctx, "self", f.owner.ID, now)
	assert.ErrorIs(t, err, ErrAlreadyMember)
	inv, err := f.store.GetInvitationByToken(ctx, "self")
	require.NoError(t, err)
	assert.Nil(t, inv.AcceptedAt)
}

func TestMemoryAcceptInvitation_Concurrent(t *testing.T) {
	f := newMemFixture(t, "")
	ctx := context.Background()
	now := time.Now()
	f.invite(t, "bo@example.com", "tok", models.RoleMember, now.Add(time.Hour), now)

	var users []*models.User
	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com", "d@example.com"} {
		users = append(users, f.addUser(t, email))
	}

	var wins int32
	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := f.store.AcceptInvitation(ctx, "tok", id, now); err == nil {
				atomic.AddInt32(&wins, 1)
			} else {
				assert.ErrorIs(t, err, ErrInviteAccepted)
			}
		}(u.ID)
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins)

	members, err := f.store.ListMembers(ctx, f.org.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestMemoryTransferOwnership(t *testing.T) {
	f := newMemFixture(t, "")
	ctx := context.Background()
	now := time.Now()
	admin := f.addUser(t, "admin@example.com")
	f.invite(t, admin.Email, "tok", models.RoleAdmin, now.Add(time.Hour), now)
	_, err := f.store.AcceptInvitation(ctx, "tok", admin.ID, now)
	require.NoError(t, err)

	assert.ErrorIs(t, f.store.TransferOwnership(ctx, f.org.ID, f.owner.ID, "ghost"), ErrNotFound)
	require.NoError(t, f.store.TransferOwnership(ctx, f.org.ID, f.owner.ID, admin.ID))

	members, err := f.store.ListMembers(ctx, f.org.ID)
	require.NoError(t, err)
	owners := 0
	for _, m := range members {
		if m.Role == models.RoleOwner {
			owners++
			assert.Equal(t, admin.ID, m.UserID)
		}
	}
	assert.Equal(t, 1, owners)

	// the previous owner is now an admin and cannot transfer again
	assert.ErrorIs(t, f.store.TransferOwnership(ctx, f.org.ID, f.owner.ID, admin.ID), ErrRoleMismatch)
	assert.ErrorIs(t, f.store.DeleteMembership(ctx, f.org.ID, admin.ID), ErrOwnerProtected)
	require.NoError(t, f.store.DeleteMembership(ctx, f.org.ID, f.owner.ID))
}

func TestMemoryUpdateMemberRole(t *testing.T) {
	f := newMemFixture(t, "")
	ctx := context.Background()
	now := time.Now()
	bo := f.addUser(t, "bo@example.com")
	f.invite(t, bo.Email, "tok", models.RoleMember, now.Add(time.Hour), now)
	_, err := f.store.AcceptInvitation(ctx, "tok", bo.ID, now)
	require.NoError(t, err)

	require.NoError(t, f.store.UpdateMemberRole(ctx, f.org.ID, bo.ID, models.RoleMember, models.RoleAdmin))
	assert.ErrorIs(t, f.store.UpdateMemberRole(ctx, f.org.ID, bo.ID, models.RoleMember, models.RoleAdmin), ErrRoleMismatch)
	assert.ErrorIs(t, f.store.UpdateMemberRole(ctx, f.org.ID, "ghost", models.RoleMember, models.RoleAdmin), ErrNotFound)
}

func TestMemorySnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	f := newMemFixture(t, dir)
	require.NoError(t, f.store.Close())

	reopened, err := NewMemoryStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	u, err := reopened.GetUserByEmail(ctx, "owner@example.com")
	require.NoError(t, err)
	assert.Equal(t, "hash", u.Password)

	orgs, err := reopened.ListUserOrganisations(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	assert.Equal(t, models.RoleOwner, orgs[0].Role)
	assert.Equal(t, models.BrandProfile("brand-1"), orgs[0].Profile)
}

func TestMemoryFailedSnapshotRollsBack(t *testing.T) {
	dir := t.TempDir()
	f := newMemFixture(t, dir)
	ctx := context.Background()
	now := time.Now()
	bo := f.addUser(t, "bo@example.com")
	f.invite(t, "bo@example.com", "tok", models.RoleMember, now.Add(time.Hour), now)
	al := f.addUser(t, "al@example.com")
	f.invite(t, "al@example.com", "admin-tok", models.RoleAdmin, now.Add(time.Hour), now)
	_, err := f.store.AcceptInvitation(ctx, "admin-tok", al.ID, now)
	require.NoError(t, err)

	// 临时文件位置被目录占用，快照写入失败
	blocker := filepath.Join(dir, snapshotFile+".tmp")
	require.NoError(t, os.Mkdir(blocker, 0755))

	_, err = f.store.AcceptInvitation(ctx, "tok", bo.ID, now)
	require.Error(t, err)
	_, err = f.store.GetMembership(ctx, f.org.ID, bo.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	inv, err := f.store.GetInvitationByToken(ctx, "tok")
	require.NoError(t, err)
	assert.Nil(t, inv.AcceptedAt)

	assert.Error(t, f.store.TransferOwnership(ctx, f.org.ID, f.owner.ID, al.ID))
	owner, err := f.store.GetMembership(ctx, f.org.ID, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleOwner, owner.Role)
	admin, err := f.store.GetMembership(ctx, f.org.ID, al.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, admin.Role)

	assert.Error(t, f.store.CreateUser(ctx, &models.User{Email: "cy@example.com"}))
	_, err = f.store.GetUserByEmail(ctx, "cy@example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, os.Remove(blocker))
	m, err := f.store.AcceptInvitation(ctx, "tok", bo.ID, now)
	require.NoError(t, err)
	assert.Equal(t, models.RoleMember, m.Role)

	reopened, err := NewMemoryStore(dir)
	require.NoError(t, err)
	_, err = reopened.GetMembership(ctx, f.org.ID, bo.ID)
	assert.NoError(t, err)
}
