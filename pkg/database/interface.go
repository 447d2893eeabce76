package database

import (
	"context"
	"errors"
	"time"

	"kindred-collective-backend/pkg/models"
)

// Store errors. Implementations return these (possibly wrapped) so the
// service layer can classify failures without knowing the backend.
var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicate      = errors.New("already exists")
	ErrAlreadyMember  = errors.New("user is already a member of the organisation")
	ErrLiveInvitation = errors.New("a pending invitation already exists for this email")
	ErrInviteExpired  = errors.New("invitation expired")
	ErrInviteAccepted = errors.New("invitation already accepted")
	ErrOwnerProtected = errors.New("the organisation owner cannot be removed")
	ErrRoleMismatch   = errors.New("membership role changed concurrently")
)

// Store 定义数据库访问接口
//
// Compound operations (CreateOrganisation, CreateInvitation, AcceptInvitation,
// DeleteMembership, UpdateMemberRole, TransferOwnership) are atomic: each
// re-checks its preconditions under a lock and either applies every write or
// none.
type Store interface {
	// 用户管理
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)

	// Organisations
	// CreateOrganisation inserts org and owner's OWNER membership together.
	// ErrDuplicate when the slug or the profile is already taken.
	CreateOrganisation(ctx context.Context, org *models.Organisation, owner *models.Membership) error
	GetOrganisation(ctx context.Context, orgID string) (*models.Organisation, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	ListUserOrganisations(ctx context.Context, userID string) ([]models.UserOrganisation, error)

	// Memberships
	GetMembership(ctx context.Context, orgID, userID string) (*models.Membership, error)
	ListMembers(ctx context.Context, orgID string) ([]models.Member, error)
	// DeleteMembership removes a non-owner membership. ErrOwnerProtected if the
	// row is the owner at the time of deletion.
	DeleteMembership(ctx context.Context, orgID, userID string) error
	// UpdateMemberRole changes userID's role from `from` to `to`; ErrRoleMismatch
	// if the current role is no longer `from`.
	UpdateMemberRole(ctx context.Context, orgID, userID string, from, to models.OrgRole) error
	// TransferOwnership demotes currentOwnerID to ADMIN and promotes newOwnerID
	// (currently ADMIN) to OWNER in one transaction.
	TransferOwnership(ctx context.Context, orgID, currentOwnerID, newOwnerID string) error

	// Invitations
	// CreateInvitation deletes expired unaccepted invites for (org, email),
	// fails with ErrLiveInvitation if a live one remains, then inserts inv.
	CreateInvitation(ctx context.Context, inv *models.Invitation, now time.Time) error
	GetInvitationByToken(ctx context.Context, token string) (*models.Invitation, error)
	ListInvitations(ctx context.Context, orgID string) ([]models.Invitation, error)
	// AcceptInvitation creates the membership for userID and marks the invite
	// accepted. Fails with ErrNotFound, ErrInviteExpired, ErrInviteAccepted or
	// ErrAlreadyMember without writing anything.
	AcceptInvitation(ctx context.Context, token, userID string, now time.Time) (*models.Membership, error)

	// 健康检查
	HealthCheck(ctx context.Context) error

	// 关闭连接
	Close() error
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	UseLocalDB  bool
	DataDir     string
	PostgresDSN string
	SupabaseURL string
	SupabaseKey string
	Debug       bool
}

// NewStore 根据配置选择数据库实现：PostgreSQL > Supabase > 本地内存
func NewStore(config DatabaseConfig) (Store, error) {
	if config.PostgresDSN != "" {
		store, err := NewPostgresStore(config.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	if config.SupabaseURL != "" && config.SupabaseKey != "" {
		return NewSupabaseStore(config.SupabaseURL, config.SupabaseKey), nil
	}
	if config.UseLocalDB {
		store, err := NewMemoryStore(config.DataDir)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, errors.New("no valid database configuration found: set POSTGRES_DSN or SUPABASE_URL+SUPABASE_SERVICE_KEY")
}
