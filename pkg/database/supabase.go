package database

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"kindred-collective-backend/pkg/models"

	"github.com/go-resty/resty/v2"
)

// SupabaseStore Supabase数据库实现（PostgREST）
//
// Plain reads and writes go through the table endpoints. The atomic compound
// operations call the kindred_* functions from schema.sql over /rpc so the
// locking happens inside one database transaction.
type SupabaseStore struct {
	client *resty.Client
}

// NewSupabaseStore 创建Supabase数据库实例
func NewSupabaseStore(url, key string) *SupabaseStore {
	// 确保URL格式正确
	if !strings.HasPrefix(url, "http") {
		url = "https://" + url
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(url, "/")+"/rest/v1").
		SetTimeout(30*time.Second).
		SetHeader("apikey", key).
		SetHeader("Authorization", "Bearer "+key).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &SupabaseStore{client: client}
}

// postgrestError PostgREST错误响应
type postgrestError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// mapPostgrestError 将 SQLSTATE 映射为存储层错误
func mapPostgrestError(status int, e postgrestError) error {
	switch e.Code {
	case "KC001", "22P02":
		return ErrNotFound
	case "KC002", "23505":
		return fmt.Errorf("%w: %s", ErrDuplicate, e.Message)
	case "KC003":
		return ErrLiveInvitation
	case "KC004":
		return ErrInviteExpired
	case "KC005":
		return ErrInviteAccepted
	case "KC006":
		return ErrOwnerProtected
	case "KC007":
		return ErrRoleMismatch
	case "KC008":
		return ErrAlreadyMember
	}
	return fmt.Errorf("API request failed with status %d: %s %s", status, e.Code, e.Message)
}

// do 发送请求；result 非空时解析响应体
func (s *SupabaseStore) do(ctx context.Context, method, endpoint string, query map[string]string, body, result interface{}) error {
	var apiErr postgrestError
	req := s.client.R().
		SetContext(ctx).
		SetError(&apiErr).
		SetHeader("Prefer", "return=representation")
	if query != nil {
		req.SetQueryParams(query)
	}
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Execute(method, endpoint)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	if resp.IsError() {
		return mapPostgrestError(resp.StatusCode(), apiErr)
	}
	return nil
}

func (s *SupabaseStore) rpc(ctx context.Context, fn string, args, result interface{}) error {
	return s.do(ctx, http.MethodPost, "/rpc/"+fn, nil, args, result)
}

// ================= 行结构 =================

type userRow struct {
	ID           string    `json:"id,omitempty"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	Name         string    `json:"name"`
	JobTitle     string    `json:"job_title"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

func (r userRow) toModel() *models.User {
	return &models.User{
		ID:        r.ID,
		Email:     r.Email,
		Password:  r.PasswordHash,
		Name:      r.Name,
		JobTitle:  r.JobTitle,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type organisationRow struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Slug       string    `json:"slug"`
	Type       string    `json:"type"`
	BrandID    *string   `json:"brand_id"`
	SupplierID *string   `json:"supplier_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (r organisationRow) toModel() (*models.Organisation, error) {
	t := models.OrganisationType(r.Type)
	profile, ok := models.ProfileFromColumns(t, r.BrandID, r.SupplierID)
	if !ok {
		return nil, fmt.Errorf("organisation %s has an invalid profile link", r.ID)
	}
	return &models.Organisation{
		ID:        r.ID,
		Name:      r.Name,
		Slug:      r.Slug,
		Type:      t,
		Profile:   profile,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

type membershipRow struct {
	ID             string    `json:"id"`
	OrganisationID string    `json:"organisation_id"`
	UserID         string    `json:"user_id"`
	Role           string    `json:"role"`
	JoinedAt       time.Time `json:"joined_at"`

	User         *userRow         `json:"users,omitempty"`
	Organisation *organisationRow `json:"organisations,omitempty"`
}

func (r membershipRow) toModel() *models.Membership {
	return &models.Membership{
		ID:             r.ID,
		OrganisationID: r.OrganisationID,
		UserID:         r.UserID,
		Role:           models.OrgRole(r.Role),
		JoinedAt:       r.JoinedAt,
	}
}

type invitationRow struct {
	ID             string     `json:"id"`
	OrganisationID string     `json:"organisation_id"`
	Email          string     `json:"email"`
	Token          string     `json:"token"`
	Role           string     `json:"role"`
	ExpiresAt      time.Time  `json:"expires_at"`
	CreatedAt      time.Time  `json:"created_at"`
	CreatedByID    string     `json:"created_by_id"`
	AcceptedAt     *time.Time `json:"accepted_at"`
	AcceptedByID   *string    `json:"accepted_by_id"`
}

func (r invitationRow) toModel() *models.Invitation {
	return &models.Invitation{
		ID:             r.ID,
		OrganisationID: r.OrganisationID,
		Email:          r.Email,
		Token:          r.Token,
		Role:           models.OrgRole(r.Role),
		ExpiresAt:      r.ExpiresAt,
		CreatedAt:      r.CreatedAt,
		CreatedByID:    r.CreatedByID,
		AcceptedAt:     r.AcceptedAt,
		AcceptedByID:   r.AcceptedByID,
	}
}

// ================= 用户管理 =================

// CreateUser 创建用户
func (s *SupabaseStore) CreateUser(ctx context.Context, user *models.User) error {
	body := map[string]interface{}{
		"email":         user.Email,
		"password_hash": user.Password,
		"name":          user.Name,
		"job_title":     user.JobTitle,
	}
	var rows []userRow
	if err := s.do(ctx, http.MethodPost, "/users", nil, body, &rows); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("failed to create user: empty response")
	}
	user.ID = rows[0].ID
	user.CreatedAt = rows[0].CreatedAt
	user.UpdatedAt = rows[0].UpdatedAt
	return nil
}

func (s *SupabaseStore) getUser(ctx context.Context, column, value string) (*models.User, error) {
	var rows []userRow
	query := map[string]string{column: "eq." + value, "select": "*", "limit": "1"}
	if err := s.do(ctx, http.MethodGet, "/users", query, nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0].toModel(), nil
}

// GetUserByEmail 根据邮箱获取用户
func (s *SupabaseStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, "email", email)
}

// GetUserByID 根据ID获取用户
func (s *SupabaseStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.getUser(ctx, "id", id)
}

// ================= Organisations =================

func (s *SupabaseStore) CreateOrganisation(ctx context.Context, org *models.Organisation, owner *models.Membership) error {
	brandID, supplierID := org.Profile.Columns()
	args := map[string]interface{}{
		"p_name":        org.Name,
		"p_slug":        org.Slug,
		"p_type":        string(org.Type),
		"p_brand_id":    brandID,
		"p_supplier_id": supplierID,
		"p_owner_id":    owner.UserID,
	}
	var row organisationRow
	if err := s.rpc(ctx, "kindred_create_organisation", args, &row); err != nil {
		return fmt.Errorf("failed to create organisation: %w", err)
	}
	org.ID = row.ID
	org.CreatedAt = row.CreatedAt
	org.UpdatedAt = row.UpdatedAt

	m, err := s.GetMembership(ctx, org.ID, owner.UserID)
	if err != nil {
		return fmt.Errorf("failed to read owner membership: %w", err)
	}
	*owner = *m
	return nil
}

func (s *SupabaseStore) GetOrganisation(ctx context.Context, orgID string) (*models.Organisation, error) {
	var rows []organisationRow
	query := map[string]string{"id": "eq." + orgID, "select": "*", "limit": "1"}
	if err := s.do(ctx, http.MethodGet, "/organisations", query, nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0].toModel()
}

func (s *SupabaseStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	var rows []struct {
		ID string `json:"id"`
	}
	query := map[string]string{"slug": "eq." + slug, "select": "id", "limit": "1"}
	if err := s.do(ctx, http.MethodGet, "/organisations", query, nil, &rows); err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return len(rows) > 0, nil
}

func (s *SupabaseStore) ListUserOrganisations(ctx context.Context, userID string) ([]models.UserOrganisation, error) {
	var rows []membershipRow
	query := map[string]string{
		"user_id": "eq." + userID,
		"select":  "id,organisation_id,user_id,role,joined_at,organisations(*)",
		"order":   "joined_at.asc",
	}
	if err := s.do(ctx, http.MethodGet, "/organisation_memberships", query, nil, &rows); err != nil {
		return nil, fmt.Errorf("failed to list organisations: %w", err)
	}
	result := make([]models.UserOrganisation, 0, len(rows))
	for _, row := range rows {
		if row.Organisation == nil {
			continue
		}
		org, err := row.Organisation.toModel()
		if err != nil {
			return nil, err
		}
		result = append(result, models.UserOrganisation{Organisation: *org, Role: models.OrgRole(row.Role), JoinedAt: row.JoinedAt})
	}
	return result, nil
}

// ================= Memberships =================

func (s *SupabaseStore) GetMembership(ctx context.Context, orgID, userID string) (*models.Membership, error) {
	var rows []membershipRow
	query := map[string]string{
		"organisation_id": "eq." + orgID,
		"user_id":         "eq." + userID,
		"select":          "id,organisation_id,user_id,role,joined_at",
		"limit":           "1",
	}
	if err := s.do(ctx, http.MethodGet, "/organisation_memberships", query, nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0].toModel(), nil
}

func (s *SupabaseStore) ListMembers(ctx context.Context, orgID string) ([]models.Member, error) {
	var rows []membershipRow
	query := map[string]string{
		"organisation_id": "eq." + orgID,
		"select":          "id,organisation_id,user_id,role,joined_at,users(name,email,job_title)",
		"order":           "joined_at.asc",
	}
	if err := s.do(ctx, http.MethodGet, "/organisation_memberships", query, nil, &rows); err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	members := make([]models.Member, 0, len(rows))
	for _, row := range rows {
		m := models.Member{Membership: *row.toModel()}
		if row.User != nil {
			m.Name, m.Email, m.JobTitle = row.User.Name, row.User.Email, row.User.JobTitle
		}
		members = append(members, m)
	}
	return members, nil
}

func (s *SupabaseStore) DeleteMembership(ctx context.Context, orgID, userID string) error {
	return s.rpc(ctx, "kindred_remove_member", map[string]interface{}{"p_org": orgID, "p_user": userID}, nil)
}

func (s *SupabaseStore) UpdateMemberRole(ctx context.Context, orgID, userID string, from, to models.OrgRole) error {
	args := map[string]interface{}{"p_org": orgID, "p_user": userID, "p_from": string(from), "p_to": string(to)}
	return s.rpc(ctx, "kindred_update_member_role", args, nil)
}

func (s *SupabaseStore) TransferOwnership(ctx context.Context, orgID, currentOwnerID, newOwnerID string) error {
	args := map[string]interface{}{"p_org": orgID, "p_current_owner": currentOwnerID, "p_new_owner": newOwnerID}
	return s.rpc(ctx, "kindred_transfer_ownership", args, nil)
}

// ================= Invitations =================

func (s *SupabaseStore) CreateInvitation(ctx context.Context, inv *models.Invitation, now time.Time) error {
	args := map[string]interface{}{
		"p_org":        inv.OrganisationID,
		"p_email":      inv.Email,
		"p_token":      inv.Token,
		"p_role":       string(inv.Role),
		"p_expires_at": inv.ExpiresAt.UTC().Format(time.RFC3339Nano),
		"p_created_by": inv.CreatedByID,
		"p_now":        now.UTC().Format(time.RFC3339Nano),
	}
	var row invitationRow
	if err := s.rpc(ctx, "kindred_create_invitation", args, &row); err != nil {
		return err
	}
	inv.ID = row.ID
	inv.CreatedAt = row.CreatedAt
	return nil
}

func (s *SupabaseStore) GetInvitationByToken(ctx context.Context, token string) (*models.Invitation, error) {
	var rows []invitationRow
	query := map[string]string{"token": "eq." + token, "select": "*", "limit": "1"}
	if err := s.do(ctx, http.MethodGet, "/organisation_invitations", query, nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0].toModel(), nil
}

func (s *SupabaseStore) ListInvitations(ctx context.Context, orgID string) ([]models.Invitation, error) {
	var rows []invitationRow
	query := map[string]string{"organisation_id": "eq." + orgID, "select": "*", "order": "created_at.desc"}
	if err := s.do(ctx, http.MethodGet, "/organisation_invitations", query, nil, &rows); err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	list := make([]models.Invitation, 0, len(rows))
	for _, row := range rows {
		list = append(list, *row.toModel())
	}
	return list, nil
}

func (s *SupabaseStore) AcceptInvitation(ctx context.Context, token, userID string, now time.Time) (*models.Membership, error) {
	args := map[string]interface{}{"p_token": token, "p_user": userID, "p_now": now.UTC().Format(time.RFC3339Nano)}
	var row membershipRow
	if err := s.rpc(ctx, "kindred_accept_invitation", args, &row); err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

// HealthCheck 健康检查
func (s *SupabaseStore) HealthCheck(ctx context.Context) error {
	var rows []json.RawMessage
	query := map[string]string{"select": "id", "limit": "1"}
	return s.do(ctx, http.MethodGet, "/organisations", query, nil, &rows)
}

// Close 关闭连接
func (s *SupabaseStore) Close() error {
	// HTTP客户端不需要显式关闭
	return nil
}
