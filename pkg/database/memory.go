package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"kindred-collective-backend/pkg/models"

	"github.com/google/uuid"
)

const snapshotFile = "kindred.json"

// MemoryStore 本地内存数据库实现
//
// A single mutex serialises every operation, which makes each compound
// operation atomic. When dataDir is set the full state is written to a JSON
// snapshot after every successful mutation and reloaded on start. A mutation
// whose snapshot write fails is rolled back, so memory never runs ahead of disk.
type MemoryStore struct {
	mu      sync.Mutex
	dataDir string
	now     func() time.Time

	users       map[string]*memUser
	orgs        map[string]*models.Organisation
	memberships map[string]*models.Membership
	invitations map[string]*models.Invitation
}

// memUser keeps the password hash, which models.User hides from JSON.
type memUser struct {
	models.User
	PasswordHash string `json:"password_hash"`
}

type memSnapshot struct {
	Users       []*memUser             `json:"users"`
	Orgs        []*models.Organisation `json:"organisations"`
	Memberships []*models.Membership   `json:"memberships"`
	Invitations []*models.Invitation   `json:"invitations"`
}

// NewMemoryStore 创建本地数据库实例；dataDir 为空时纯内存
func NewMemoryStore(dataDir string) (*MemoryStore, error) {
	s := &MemoryStore{
		dataDir:     dataDir,
		now:         time.Now,
		users:       map[string]*memUser{},
		orgs:        map[string]*models.Organisation{},
		memberships: map[string]*models.Membership{},
		invitations: map[string]*models.Invitation{},
	}
	if dataDir == "" {
		return s, nil
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MemoryStore) load() error {
	data, err := os.ReadFile(filepath.Join(s.dataDir, snapshotFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap memSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to parse snapshot: %w", err)
	}
	for _, u := range snap.Users {
		u.Password = u.PasswordHash
		s.users[u.ID] = u
	}
	for _, o := range snap.Orgs {
		s.orgs[o.ID] = o
	}
	for _, m := range snap.Memberships {
		s.memberships[m.ID] = m
	}
	for _, inv := range snap.Invitations {
		s.invitations[inv.ID] = inv
	}
	return nil
}

// memState 是四张表的拷贝，快照写入失败时用于回滚
type memState struct {
	users       map[string]*memUser
	orgs        map[string]*models.Organisation
	memberships map[string]*models.Membership
	invitations map[string]*models.Invitation
}

// capture copies the state before a mutation; callers hold s.mu.
// Rows are copied by value, so later in-place edits do not reach the copy.
func (s *MemoryStore) capture() memState {
	if s.dataDir == "" {
		return memState{}
	}
	st := memState{
		users:       make(map[string]*memUser, len(s.users)),
		orgs:        make(map[string]*models.Organisation, len(s.orgs)),
		memberships: make(map[string]*models.Membership, len(s.memberships)),
		invitations: make(map[string]*models.Invitation, len(s.invitations)),
	}
	for id, u := range s.users {
		c := *u
		st.users[id] = &c
	}
	for id, o := range s.orgs {
		c := *o
		st.orgs[id] = &c
	}
	for id, m := range s.memberships {
		c := *m
		st.memberships[id] = &c
	}
	for id, inv := range s.invitations {
		c := *inv
		st.invitations[id] = &c
	}
	return st
}

// commit persists the mutation, restoring before if the write fails.
func (s *MemoryStore) commit(before memState) error {
	if err := s.persist(); err != nil {
		s.users, s.orgs = before.users, before.orgs
		s.memberships, s.invitations = before.memberships, before.invitations
		return err
	}
	return nil
}

// persist writes the snapshot; callers hold s.mu.
func (s *MemoryStore) persist() error {
	if s.dataDir == "" {
		return nil
	}
	var snap memSnapshot
	for _, u := range s.users {
		u.PasswordHash = u.Password
		snap.Users = append(snap.Users, u)
	}
	for _, o := range s.orgs {
		snap.Orgs = append(snap.Orgs, o)
	}
	for _, m := range s.memberships {
		snap.Memberships = append(snap.Memberships, m)
	}
	for _, inv := range s.invitations {
		snap.Invitations = append(snap.Invitations, inv)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	tmp := filepath.Join(s.dataDir, snapshotFile+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dataDir, snapshotFile)); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// ================= 用户管理 =================

// CreateUser 创建用户
func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == user.Email {
			return fmt.Errorf("%w: email", ErrDuplicate)
		}
	}
	before := s.capture()
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.CreatedAt = s.now()
	user.UpdatedAt = user.CreatedAt
	s.users[user.ID] = &memUser{User: *user}
	return s.commit(before)
}

// GetUserByEmail 根据邮箱获取用户
func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == email {
			user := u.User
			return &user, nil
		}
	}
	return nil, ErrNotFound
}

// GetUserByID 根据ID获取用户
func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	user := u.User
	return &user, nil
}

// ================= Organisations =================

func (s *MemoryStore) CreateOrganisation(ctx context.Context, org *models.Organisation, owner *models.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[owner.UserID]; !ok {
		return ErrNotFound
	}
	for _, o := range s.orgs {
		if o.Slug == org.Slug {
			return fmt.Errorf("%w: slug", ErrDuplicate)
		}
		if o.Profile == org.Profile {
			return fmt.Errorf("%w: profile", ErrDuplicate)
		}
	}

	before := s.capture()
	now := s.now()
	org.ID = uuid.New().String()
	org.CreatedAt, org.UpdatedAt = now, now
	o := *org
	s.orgs[o.ID] = &o

	owner.ID = uuid.New().String()
	owner.OrganisationID = org.ID
	owner.Role = models.RoleOwner
	owner.JoinedAt = now
	m := *owner
	s.memberships[m.ID] = &m
	return s.commit(before)
}

func (s *MemoryStore) GetOrganisation(ctx context.Context, orgID string) (*models.Organisation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orgs[orgID]
	if !ok {
		return nil, ErrNotFound
	}
	org := *o
	return &org, nil
}

func (s *MemoryStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.orgs {
		if o.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListUserOrganisations(ctx context.Context, userID string) ([]models.UserOrganisation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []models.UserOrganisation
	for _, m := range s.memberships {
		if m.UserID != userID {
			continue
		}
		o, ok := s.orgs[m.OrganisationID]
		if !ok {
			continue
		}
		result = append(result, models.UserOrganisation{Organisation: *o, Role: m.Role, JoinedAt: m.JoinedAt})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].JoinedAt.Before(result[j].JoinedAt) })
	return result, nil
}

// ================= Memberships =================

// findMembership callers hold s.mu.
func (s *MemoryStore) findMembership(orgID, userID string) *models.Membership {
	for _, m := range s.memberships {
		if m.OrganisationID == orgID && m.UserID == userID {
			return m
		}
	}
	return nil
}

func (s *MemoryStore) GetMembership(ctx context.Context, orgID, userID string) (*models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.findMembership(orgID, userID)
	if m == nil {
		return nil, ErrNotFound
	}
	copied := *m
	return &copied, nil
}

func (s *MemoryStore) ListMembers(ctx context.Context, orgID string) ([]models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []models.Member
	for _, m := range s.memberships {
		if m.OrganisationID != orgID {
			continue
		}
		member := models.Member{Membership: *m}
		if u, ok := s.users[m.UserID]; ok {
			member.Name, member.Email, member.JobTitle = u.Name, u.Email, u.JobTitle
		}
		result = append(result, member)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].JoinedAt.Before(result[j].JoinedAt) })
	return result, nil
}

func (s *MemoryStore) DeleteMembership(ctx context.Context, orgID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.findMembership(orgID, userID)
	if m == nil {
		return ErrNotFound
	}
	if m.Role == models.RoleOwner {
		return ErrOwnerProtected
	}
	before := s.capture()
	delete(s.memberships, m.ID)
	return s.commit(before)
}

func (s *MemoryStore) UpdateMemberRole(ctx context.Context, orgID, userID string, from, to models.OrgRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.findMembership(orgID, userID)
	if m == nil {
		return ErrNotFound
	}
	if m.Role != from || to == models.RoleOwner {
		return ErrRoleMismatch
	}
	before := s.capture()
	m.Role = to
	return s.commit(before)
}

func (s *MemoryStore) TransferOwnership(ctx context.Context, orgID, currentOwnerID, newOwnerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orgs[orgID]; !ok {
		return ErrNotFound
	}
	next := s.findMembership(orgID, newOwnerID)
	if next == nil {
		return ErrNotFound
	}
	current := s.findMembership(orgID, currentOwnerID)
	if current == nil || current.Role != models.RoleOwner || next.Role != models.RoleAdmin {
		return ErrRoleMismatch
	}
	before := s.capture()
	current.Role = models.RoleAdmin
	next.Role = models.RoleOwner
	return s.commit(before)
}

// ================= Invitations =================

func (s *MemoryStore) CreateInvitation(ctx context.Context, inv *models.Invitation, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orgs[inv.OrganisationID]; !ok {
		return ErrNotFound
	}
	before := s.capture()
	for id, existing := range s.invitations {
		if existing.OrganisationID != inv.OrganisationID || existing.Email != inv.Email || existing.AcceptedAt != nil {
			continue
		}
		if existing.ExpiredAt(now) {
			delete(s.invitations, id)
			continue
		}
		return ErrLiveInvitation
	}
	for _, existing := range s.invitations {
		if existing.Token == inv.Token {
			return fmt.Errorf("%w: token", ErrDuplicate)
		}
	}

	inv.ID = uuid.New().String()
	inv.CreatedAt = now
	stored := *inv
	s.invitations[stored.ID] = &stored
	return s.commit(before)
}

// findInvitation callers hold s.mu.
func (s *MemoryStore) findInvitation(token string) *models.Invitation {
	for _, inv := range s.invitations {
		if inv.Token == token {
			return inv
		}
	}
	return nil
}

func (s *MemoryStore) GetInvitationByToken(ctx context.Context, token string) (*models.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv := s.findInvitation(token)
	if inv == nil {
		return nil, ErrNotFound
	}
	copied := *inv
	return &copied, nil
}

func (s *MemoryStore) ListInvitations(ctx context.Context, orgID string) ([]models.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []models.Invitation
	for _, inv := range s.invitations {
		if inv.OrganisationID == orgID {
			result = append(result, *inv)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (s *MemoryStore) AcceptInvitation(ctx context.Context, token, userID string, now time.Time) (*models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv := s.findInvitation(token)
	if inv == nil {
		return nil, ErrNotFound
	}
	if inv.ExpiredAt(now) {
		return nil, ErrInviteExpired
	}
	if inv.AcceptedAt != nil {
		return nil, ErrInviteAccepted
	}
	if s.findMembership(inv.OrganisationID, userID) != nil {
		return nil, ErrAlreadyMember
	}

	before := s.capture()
	m := &models.Membership{
		ID:             uuid.New().String(),
		OrganisationID: inv.OrganisationID,
		UserID:         userID,
		Role:           inv.Role,
		JoinedAt:       now,
	}
	s.memberships[m.ID] = m
	acceptedAt, acceptedBy := now, userID
	inv.AcceptedAt = &acceptedAt
	inv.AcceptedByID = &acceptedBy
	if err := s.commit(before); err != nil {
		return nil, err
	}
	copied := *m
	return &copied, nil
}

// HealthCheck 健康检查
func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	return nil
}

// Close 关闭连接
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist()
}
