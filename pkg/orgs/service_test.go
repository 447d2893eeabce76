package orgs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"kindred-collective-backend/pkg/apperr"
	"kindred-collective-backend/pkg/database"
	"kindred-collective-backend/pkg/models"
	"kindred-collective-backend/pkg/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.InviteEmail
	err  error
}

func (n *recordingNotifier) NotifyInvite(ctx context.Context, msg notify.InviteEmail) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

type harness struct {
	t        *testing.T
	svc      *Service
	store    *database.MemoryStore
	notifier *recordingNotifier
	now      time.Time
	tokens   int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := database.NewMemoryStore("")
	require.NoError(t, err)
	h := &harness{
		t:        t,
		store:    store,
		notifier: &recordingNotifier{},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h.svc = NewService(store, h.notifier, zap.NewNop(), Config{AppBaseURL: "https://kindred.example"},
		WithClock(func() time.Time { return h.now }),
		WithTokenSource(func() (string, error) {
			h.tokens++
			return fmt.Sprintf("tok-%d", h.tokens), nil
		}),
	)
	return h
}

func (h *harness) user(email, name string) models.AuthContext {
	h.t.Helper()
	u := &models.User{Email: email, Password: "hash", Name: name}
	require.NoError(h.t, h.store.CreateUser(context.Background(), u))
	return models.AuthContext{UserID: u.ID, Email: u.Email}
}

func (h *harness) org(owner models.AuthContext, name string) string {
	h.t.Helper()
	org, err := h.svc.CreateOrganisation(context.Background(), owner, CreateOrganisationInput{
		Name: name, Type: "brand", ProfileID: "brand-" + Slugify(name),
	})
	require.NoError(h.t, err)
	return org.ID
}

func (h *harness) join(owner models.AuthContext, orgID string, who models.AuthContext, role models.OrgRole) {
	h.t.Helper()
	ctx := context.Background()
	res, err := h.svc.CreateInvite(ctx, owner, CreateInviteInput{OrganisationID: orgID, Email: who.Email, Role: string(role)})
	require.NoError(h.t, err)
	_, err = h.svc.AcceptInvite(ctx, who, res.Invite.Token)
	require.NoError(h.t, err)
}

func (h *harness) roles(orgID string) map[string]models.OrgRole {
	h.t.Helper()
	members, err := h.store.ListMembers(context.Background(), orgID)
	require.NoError(h.t, err)
	out := map[string]models.OrgRole{}
	for _, m := range members {
		out[m.UserID] = m.Role
	}
	return out
}

func ownerCount(roles map[string]models.OrgRole) int {
	n := 0
	for _, r := range roles {
		if r == models.RoleOwner {
			n++
		}
	}
	return n
}

func assertKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apperr.KindOf(err), err.Error())
}

// ================= scenarios =================

func TestScenarioInviteAcceptThenTransferToMemberFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.user("alice@acme.com", "Alice")
	orgID := h.org(alice, "Acme Spirits")

	res, err := h.svc.CreateInvite(ctx, alice, CreateInviteInput{OrganisationID: orgID, Email: "bob@acme.com", Role: "MEMBER"})
	require.NoError(t, err)
	assert.Equal(t, h.now.Add(7*24*time.Hour), res.Invite.ExpiresAt)
	assert.Equal(t, models.InvitationPending, res.Invite.Status)
	assert.Equal(t, "https://kindred.example/signup?invite=tok-1", res.InviteURL)

	bob := h.user("bob@acme.com", "Bob")
	m, err := h.svc.AcceptInvite(ctx, bob, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleMember, m.Role)
	assert.Equal(t, h.now, m.JoinedAt)

	inv, err := h.store.GetInvitationByToken(ctx, "tok-1")
	require.NoError(t, err)
	require.NotNil(t, inv.AcceptedAt)

	members, err := h.svc.ListMembers(ctx, alice, orgID)
	require.NoError(t, err)
	assert.Len(t, members, 2)
	assert.Equal(t, map[string]models.OrgRole{alice.UserID: models.RoleOwner, bob.UserID: models.RoleMember}, h.roles(orgID))

	err = h.svc.TransferOwnership(ctx, alice, orgID, bob.UserID)
	assertKind(t, err, apperr.InvalidOperation)
	assert.Equal(t, 1, ownerCount(h.roles(orgID)))
}

func TestScenarioPromoteTransferThenRemoveNewOwnerFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.user("alice@acme.com", "Alice")
	bob := h.user("bob@acme.com", "Bob")
	orgID := h.org(alice, "Acme Spirits")
	h.join(alice, orgID, bob, models.RoleMember)

	m, err := h.svc.ChangeMemberRole(ctx, alice, orgID, bob.UserID, "admin")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, m.Role)

	require.NoError(t, h.svc.TransferOwnership(ctx, alice, orgID, bob.UserID))
	assert.Equal(t, map[string]models.OrgRole{alice.UserID: models.RoleAdmin, bob.UserID: models.RoleOwner}, h.roles(orgID))

	err = h.svc.RemoveMember(ctx, alice, orgID, bob.UserID)
	assertKind(t, err, apperr.InvalidOperation)
	assert.Len(t, h.roles(orgID), 2)
}

// ================= invariants =================

func TestSingleOwnerAcrossTransfers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.user("a@acme.com", "A")
	b := h.user("b@acme.com", "B")
	c := h.user("c@acme.com", "C")
	orgID := h.org(a, "Acme")
	h.join(a, orgID, b, models.RoleAdmin)
	h.join(a, orgID, c, models.RoleAdmin)

	sequence := []struct{ from, to models.AuthContext }{{a, b}, {b, c}, {c, a}, {a, c}, {c, b}}
	for _, step := range sequence {
		require.NoError(t, h.svc.TransferOwnership(ctx, step.from, orgID, step.to.UserID))
		roles := h.roles(orgID)
		assert.Equal(t, 1, ownerCount(roles))
		assert.Equal(t, models.RoleOwner, roles[step.to.UserID])
		assert.Equal(t, models.RoleAdmin, roles[step.from.UserID])
	}

	// the former owner lost the right to transfer
	assertKind(t, h.svc.TransferOwnership(ctx, a, orgID, c.UserID), apperr.Forbidden)
}

func TestAcceptTwiceIsAlreadyAccepted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.user("alice@acme.com", "Alice")
	bob := h.user("bob@acme.com", "Bob")
	orgID := h.org(alice, "Acme")

	res, err := h.svc.CreateInvite(ctx, alice, CreateInviteInput{OrganisationID: orgID, Email: bob.Email, Role: "member"})
	require.NoError(t, err)
	assert.Equal(t, "https://kindred.example/invite/tok-1", res.InviteURL)

	_, err = h.svc.AcceptInvite(ctx, bob, res.Invite.Token)
	require.NoError(t, err)
	_, err = h.svc.AcceptInvite(ctx, bob, res.Invite.Token)
	assertKind(t, err, apperr.AlreadyAccepted)

	members, err := h.svc.ListMembers(ctx, bob, orgID)
	require.NoError(t, err)
	count := 0
	for _, m := range members {
		if m.UserID == bob.UserID {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestAcceptExpiredInvite(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.user("alice@acme.com", "Alice")
	bob := h.user("bob@acme.com", "Bob")
	carol := h.user("carol@acme.com", "Carol")
	orgID := h.org(alice, "Acme")

	res, err := h.svc.CreateInvite(ctx, alice, CreateInviteInput{OrganisationID: orgID, Email: bob.Email, Role: "member"})
	require.NoError(t, err)
	_, err = h.svc.AcceptInvite(ctx, bob, res.Invite.Token)
	require.NoError(t, err)

	pending, err := h.svc.CreateInvite(ctx, alice, CreateInviteInput{OrganisationID: orgID, Email: carol.Email, Role: "member"})
	require.NoError(t, err)

	h.now = h.now.Add(7*24*time.Hour + time.Second)

	// expired wins over accepted
	_, err = h.svc.AcceptInvite(ctx, bob, res.Invite.Token)
	assertKind(t, err, apperr.Expired)

	_, err = h.svc.AcceptInvite(ctx, carol, pending.Invite.Token)
	assertKind(t, err, apperr.Expired)
	assert.NotContains(t, h.roles(orgID), carol.UserID)
}

func TestAdminCannotInviteAdmin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.user("alice@acme.com", "Alice")
	bob := h.user("bob@acme.com", "Bob")
	orgID := h.org(alice, "Acme")
	h.join(alice, orgID, bob, models.RoleAdmin)

	_, err := h.svc.CreateInvite(ctx, bob, CreateInviteInput{OrganisationID: orgID, Email: "dan@acme.com", Role: "admin"})
	assertKind(t, err, apperr.Forbidden)

	list, err := h.svc.ListInvites(ctx, alice, orgID)
	require.NoError(t, err)
	for _, inv := range list.Invites {
		assert.NotEqual(t, "dan@acme.com", inv.Email)
	}

	_, err = h.svc.CreateInvite(ctx, bob, CreateInviteInput{OrganisationID: orgID, Email: "dan@acme.com", Role: "member"})
	require.NoError(t, err)
}

func TestRemoveOwnerIsInvalidOperation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.user("alice@acme.com", "Alice")
	bob := h.user("bob@acme.com", "Bob")
	orgID := h.org(alice, "Acme")
	h.join(alice, orgID, bob, models.RoleAdmin)

	before := h.roles(orgID)
	assertKind(t, h.svc.RemoveMember(ctx, bob, orgID, alice.UserID), apperr.InvalidOperation)
	assertKind(t, h.svc.RemoveMember(ctx, alice, orgID, alice.UserID), apperr.InvalidOperation)
	assert.Equal(t, before, h.roles(orgID))
}

// ================= members =================

func TestRemoveMemberRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.user("alice@acme.com", "Alice")
	admin := h.user("admin@acme.com", "Ada")
	bob := h.user("bob@acme.com", "Bob")
	outsider := h.user("eve@other.com", "Eve")
	orgID := h.org(alice, "Acme")
	h.join(alice, orgID, admin, models.RoleAdmin)
	h.join(alice, orgID, bob, models.RoleMember)

	assertKind(t, h.svc.RemoveMember(ctx, bob, orgID, admin.UserID), apperr.Forbidden)
	assertKind(t, h.svc.RemoveMember(ctx, outsider, orgID, bob.UserID), apperr.Forbidden)
	assertKind(t, h.svc.RemoveMember(ctx, admin, orgID, outsider.UserID), apperr.NotFound)
	assertKind(t, h.svc.RemoveMember(ctx, admin, "missing-org", bob.UserID), apperr.NotFound)
	assertKind(t, h.svc.RemoveMember(ctx, models.AuthContext{}, orgID, bob.UserID), apperr.Unauthorized)

	require.NoError(t, h.svc.RemoveMember(ctx, admin, orgID, bob.UserID))
	assert.NotContains(t, h.roles(orgID), bob.UserID)
	assertKind(t, h.svc.RemoveMember(ctx, admin, orgID, bob.UserID), apperr.NotFound)
}

func TestListMembersRequiresMembership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.user("alice@acme.com", "Alice")
	bob := h.user("bob@acme.com", "Bob")
	orgID := h.org(alice, "Acme")

	_, err := h.svc.ListMembers(ctx, bob, orgID)
	assertKind(t, err, apperr.Forbidden)

	members, err := h.svc.ListMembers(ctx, alice, orgID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "Alice", members[0].Name)
	assert.Equal(t, "alice@acme.com", members[0].Email)
}

func TestChangeMemberRoleRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.user("alice@acme.com", "Alice")
	admin := h.user("admin@acme.com", "Ada")
	bob := h.user("bob@acme.com", "Bob")
	orgID := h.org(alice, "Acme")
	h.join(alice, orgID, admin, models.RoleAdmin)
	h.join(alice, orgID, bob, models.RoleMember)

	_, err := h.svc.ChangeMemberRole(ctx, admin, orgID, bob.UserID, "admin")
	assertKind(t, err, apperr.Forbidden)
	_, err = h.svc.ChangeMemberRole(ctx, alice, orgID, bob.UserID, "owner")
	assertKind(t, err, apperr.BadRequest)
	_, err = h.svc.ChangeMemberRole(ctx, alice, orgID, alice.UserID, "member")
	assertKind(t, err, apperr.InvalidOperation)

	m, err := h.svc.ChangeMemberRole(ctx, alice, orgID, admin.UserID, "member")
	require.NoError(t, err)
	assert.Equal(t, models.RoleMember, m.Role)
}

// ================= invites =================

func TestCreateInviteValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.user("alice@acme.com", "Alice")
	orgID := h.org(alice, "Acme")

	cases := []struct {
		name  string
		email string
		role  string
	}{
		{"empty email", "", "member"},
		{"no local part", "@acme.com", "member"},
		{"no domain", "bob@", "member"},
		{"no tld", "bob@localhost", "member"},
		{"owner role", "bob@acme.com", "owner"},
		{"unknown role", "bob@acme.com", "viewer"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.CreateInvite(ctx, alice, CreateInviteInput{OrganisationID: orgID, Email: tc.email, Role: tc.role})
			assertKind(t, err, apperr.BadRequest)
		})
	}
	assert.Empty(t, h.notifier.sent)
}

func TestCreateInviteResolvesOrganisation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.user("alice@acme.com", "Alice")
	nobody := h.user("nobody@acme.com", "")

	_, err := h.svc.CreateInvite(ctx, nobody, CreateInviteInput{Email: "x@acme.com", Role: "member"})
	assertKind(t, err, apperr.Forbidden)

	first := h.org(alice, "Acme")
	res, err := h.svc.CreateInvite(ctx, alice, CreateInviteInput{Email: "bob@acme.com", Role: "member"})
	require.NoError(t, err)
	assert.Equal(t, first, res.Invite.OrganisationID)

	h.org(alice, "Acme Imports")
	_, err = h.svc.CreateInvite(ctx, alice, CreateInviteInput{Email: "carol@acme.com", Role: "member"})
	assertKind(t, err, apperr.BadRequest)

	_, err = h.svc.ListInvites(ctx, alice, "")
	assertKind(t, err, apperr.BadRequest)
}

func TestCreateInviteConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.user("alice@acme.com", "Alice")
	bob := h.user("bob@acme.com", "Bob")
	orgID := h.org(alice, "Acme")
	h.join(alice, orgID, bob, models.RoleMember)

	_, err := h.svc.CreateInvite(ctx, alice, CreateInviteInput{OrganisationID: orgID, Email: bob.Email, Role: "member"})
	assertKind(t, err, apperr.Conflict)

	_, err = h.svc.CreateInvite(ctx, alice, CreateInviteInput{OrganisationID: orgID, Email: "carol@acme.com", Role: "member"})
	require.NoError(t, err)
	_, err = h.svc.CreateInvite(ctx, alice, CreateInviteInput{OrganisationID: orgID, Email: "carol@acme.com", Role: "admin"})
	assertKind(t, err, apperr.Conflict)

	// once expired, a fresh invite replaces the old row
	h.now = h.now.Add(8 * 24 * time.Hour)
	res, err := h.svc.CreateInvite(ctx, alice, CreateInviteInput{OrganisationID: orgID, Email: "carol@acme.com", Role: "admin"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, res.Invite.Role)

	list, err := h.svc.ListInvites(ctx, alice, orgID)
	require.NoError(t, err)
	carol := 0
	for _, inv := range list.Invites {
		if inv.Email == "carol@acme.com" {
			carol++
		}
	}
	assert.Equal(t, 1, carol)
}

func TestCreateInviteSurvivesNotifierFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.user("alice@acme.com", "Alice")
	orgID := h.org(alice, "Acme Spirits")
	h.notifier.err = errors.New("redis down")

	res, err := h.svc.CreateInvite(ctx, alice, CreateInviteInput{OrganisationID: orgID, Email: "bob@acme.com", Role: "member"})
	require.NoError(t, err)

	_, err = h.store.GetInvitationByToken(ctx, res.Invite.Token)
	require.NoError(t, err)
	require.Len(t, h.notifier.sent, 1)
	sent := h.notifier.sent[0]
	assert.Equal(t, "Alice", sent.InvitedBy)
	assert.Equal(t, "Acme Spirits", sent.OrganisationName)
	assert.Equal(t, res.InviteURL, sent.InviteURL)
}

func TestListInvitesStatuses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.user("alice@acme.com", "Alice")
	bob := h.user("bob@acme.com", "Bob")
	member := h.user("mem@acme.com", "Mem")
	orgID := h.org(alice, "Acme")
	h.join(alice, orgID, member, models.RoleMember)

	res, err := h.svc.CreateInvite(ctx, alice, CreateInviteInput{OrganisationID: orgID, Email: bob.Email, Role: "member"})
	require.NoError(t, err)
	_, err = h.svc.AcceptInvite(ctx, bob, res.Invite.Token)
	require.NoError(t, err)

	_, err = h.svc.CreateInvite(ctx, alice, CreateInviteInput{OrganisationID: orgID, Email: "stale@acme.com", Role: "member"})
	require.NoError(t, err)

	h.now = h.now.Add(24 * time.Hour)
	_, err = h.svc.CreateInvite(ctx, alice, CreateInviteInput{OrganisationID: orgID, Email: "old@acme.com", Role: "member"})
	require.NoError(t, err)
	h.now = h.now.Add(6*24*time.Hour + time.Minute)
	_, err = h.svc.CreateInvite(ctx, alice, CreateInviteInput{OrganisationID: orgID, Email: "new@acme.com", Role: "member"})
	require.NoError(t, err)

	_, err = h.svc.ListInvites(ctx, member, orgID)
	assertKind(t, err, apperr.Forbidden)

	list, err := h.svc.ListInvites(ctx, alice, orgID)
	require.NoError(t, err)
	statuses := map[string]models.InvitationStatus{}
	for _, inv := range list.Invites {
		statuses[inv.Email] = inv.Status
	}
	assert.Equal(t, models.InvitationAccepted, statuses["bob@acme.com"])
	assert.Equal(t, models.InvitationPending, statuses["old@acme.com"])
	assert.Equal(t, models.InvitationPending, statuses["new@acme.com"])
	assert.Equal(t, models.InvitationAccepted, statuses["mem@acme.com"])
	assert.Equal(t, models.InvitationExpired, statuses["stale@acme.com"])
	assert.Equal(t, 2, list.PendingCount)
}

func TestAcceptInviteErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.user("alice@acme.com", "Alice")
	orgID := h.org(alice, "Acme")

	_, err := h.svc.AcceptInvite(ctx, models.AuthContext{}, "tok-1")
	assertKind(t, err, apperr.Unauthorized)
	_, err = h.svc.AcceptInvite(ctx, alice, " ")
	assertKind(t, err, apperr.BadRequest)
	_, err = h.svc.AcceptInvite(ctx, alice, "nope")
	assertKind(t, err, apperr.NotFound)

	res, err := h.svc.CreateInvite(ctx, alice, CreateInviteInput{OrganisationID: orgID, Email: "other@acme.com", Role: "member"})
	require.NoError(t, err)
	// accepting with an account that is already a member
	_, err = h.svc.AcceptInvite(ctx, alice, res.Invite.Token)
	assertKind(t, err, apperr.Conflict)
	inv, err := h.store.GetInvitationByToken(ctx, res.Invite.Token)
	require.NoError(t, err)
	assert.Nil(t, inv.AcceptedAt)
}

func TestPreviewInvite(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.user("alice@acme.com", "Alice")
	orgID := h.org(alice, "Acme Spirits")
	res, err := h.svc.CreateInvite(ctx, alice, CreateInviteInput{OrganisationID: orgID, Email: "bob@acme.com", Role: "admin"})
	require.NoError(t, err)

	preview, err := h.svc.PreviewInvite(ctx, res.Invite.Token)
	require.NoError(t, err)
	assert.Equal(t, "Acme Spirits", preview.OrganisationName)
	assert.Equal(t, models.OrganisationBrand, preview.OrganisationType)
	assert.Equal(t, models.RoleAdmin, preview.Role)
	assert.Equal(t, models.InvitationPending, preview.Status)

	_, err = h.svc.PreviewInvite(ctx, "missing")
	assertKind(t, err, apperr.NotFound)
}

// ================= organisations =================

func TestCreateOrganisation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.user("alice@acme.com", "Alice")
	bob := h.user("bob@acme.com", "Bob")

	first, err := h.svc.CreateOrganisation(ctx, alice, CreateOrganisationInput{Name: "Acme Spirits", Type: "Supplier", ProfileID: "sup-1"})
	require.NoError(t, err)
	assert.Equal(t, "acme-spirits", first.Slug)
	assert.Equal(t, models.RoleOwner, first.Role)
	assert.Equal(t, models.SupplierProfile("sup-1"), first.Profile)

	second, err := h.svc.CreateOrganisation(ctx, bob, CreateOrganisationInput{Name: "Acme  Spirits!", Type: "supplier", ProfileID: "sup-2"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(second.Slug, "acme-spirits-"))
	assert.NotEqual(t, first.Slug, second.Slug)

	_, err = h.svc.CreateOrganisation(ctx, bob, CreateOrganisationInput{Name: "Copycat", Type: "supplier", ProfileID: "sup-1"})
	assertKind(t, err, apperr.Conflict)

	_, err = h.svc.CreateOrganisation(ctx, bob, CreateOrganisationInput{Name: "X", Type: "distillery", ProfileID: "x"})
	assertKind(t, err, apperr.BadRequest)
	_, err = h.svc.CreateOrganisation(ctx, bob, CreateOrganisationInput{Name: " ", Type: "brand", ProfileID: "x"})
	assertKind(t, err, apperr.BadRequest)
	_, err = h.svc.CreateOrganisation(ctx, bob, CreateOrganisationInput{Name: "X", Type: "brand"})
	assertKind(t, err, apperr.BadRequest)
}

func TestMultiAffiliation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.user("alice@acme.com", "Alice")
	bob := h.user("bob@acme.com", "Bob")
	acme := h.org(alice, "Acme")
	bobs := h.org(bob, "Bob's Bottles")
	h.join(alice, acme, bob, models.RoleAdmin)

	list, err := h.svc.ListMyOrganisations(ctx, bob)
	require.NoError(t, err)
	roles := map[string]models.OrgRole{}
	for _, o := range list {
		roles[o.ID] = o.Role
	}
	assert.Equal(t, map[string]models.OrgRole{acme: models.RoleAdmin, bobs: models.RoleOwner}, roles)

	got, err := h.svc.GetOrganisation(ctx, bob, acme)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, got.Role)

	_, err = h.svc.GetOrganisation(ctx, alice, bobs)
	assertKind(t, err, apperr.Forbidden)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "acme-spirits", Slugify("  Acme   Spirits "))
	assert.Equal(t, "bob-s-bottles", Slugify("Bob's Bottles"))
	assert.Equal(t, "cafe-spirits", Slugify("Café Spirits"))
	assert.Equal(t, "creme-brulee-co", Slugify("Crème Brûlée & Co"))
	assert.Equal(t, "nino", Slugify("Niño"))
	assert.Equal(t, "organisation", Slugify("!!!"))
}

func TestStoreErrorKeepsMessageVerbatim(t *testing.T) {
	err := storeError(database.ErrNotFound, "100% of nothing")
	assertKind(t, err, apperr.NotFound)
	assert.Equal(t, "100% of nothing", apperr.MessageOf(err))
}
