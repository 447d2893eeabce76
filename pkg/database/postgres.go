package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"kindred-collective-backend/pkg/models"

	"github.com/lib/pq"
)

// PostgresStore PostgreSQL数据库实现
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore 创建PostgreSQL数据库实例
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	// Sanitize DSN to avoid stray CR/LF from env values
	dsn = strings.TrimSpace(dsn)
	// 尝试多种连接策略（Serverless 环境下 IPv6 / SSL 差异）
	strategies := []string{
		addConnectionParams(dsn, "connect_timeout=10"),
		addConnectionParams(dsn, "sslmode=require&connect_timeout=10"),
		dsn,
	}

	var lastErr error
	for _, strategy := range strategies {
		db, err := sql.Open("postgres", strategy)
		if err != nil {
			lastErr = err
			continue
		}

		// 连接池参数，适合无服务器环境
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = db.PingContext(ctx)
		cancel()
		if err != nil {
			lastErr = err
			db.Close()
			continue
		}
		return &PostgresStore{db: db}, nil
	}

	return nil, fmt.Errorf("failed to connect to PostgreSQL with all strategies: %w", lastErr)
}

// NewPostgresStoreFromDB wraps an existing connection pool.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// DB exposes the pool for migrations.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// addConnectionParams 添加连接参数到DSN
func addConnectionParams(dsn, params string) string {
	if params == "" {
		return dsn
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + params
}

// classify maps driver errors onto store errors.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
		case "22P02": // invalid_text_representation, e.g. malformed uuid
			return ErrNotFound
		case "23503": // foreign_key_violation: referenced user or organisation is gone
			return fmt.Errorf("%w: %s", ErrNotFound, pqErr.Constraint)
		}
	}
	return err
}

// withTx runs fn in a transaction, rolling back if fn returns an error.
func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", classify(err))
	}
	return nil
}

// ================= Users =================

const userColumns = `id, email, password_hash, name, job_title, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Email, &u.Password, &u.Name, &u.JobTitle, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classify(err)
	}
	return &u, nil
}

// CreateUser 创建用户
func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	query := `
        INSERT INTO users (email, password_hash, name, job_title, created_at, updated_at)
        VALUES ($1, $2, $3, $4, NOW(), NOW())
        RETURNING id, created_at, updated_at
    `
	err := s.db.QueryRowContext(ctx, query, user.Email, user.Password, user.Name, user.JobTitle).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", classify(err))
	}
	return nil
}

// GetUserByEmail 根据邮箱获取用户
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// GetUserByID 根据ID获取用户
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// ================= Organisations =================

const orgColumns = `o.id, o.name, o.slug, o.type, o.brand_id, o.supplier_id, o.created_at, o.updated_at`

func scanOrganisation(row interface{ Scan(...interface{}) error }, extra ...interface{}) (*models.Organisation, error) {
	var o models.Organisation
	var orgType string
	var brandID, supplierID sql.NullString
	dest := append([]interface{}{&o.ID, &o.Name, &o.Slug, &orgType, &brandID, &supplierID, &o.CreatedAt, &o.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classify(err)
	}
	o.Type = models.OrganisationType(orgType)
	profile, ok := models.ProfileFromColumns(o.Type, nullStringPtr(brandID), nullStringPtr(supplierID))
	if !ok {
		return nil, fmt.Errorf("organisation %s has an invalid profile link", o.ID)
	}
	o.Profile = profile
	return &o, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// CreateOrganisation inserts the organisation and its owner membership in one transaction.
func (s *PostgresStore) CreateOrganisation(ctx context.Context, org *models.Organisation, owner *models.Membership) error {
	brandID, supplierID := org.Profile.Columns()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
            INSERT INTO organisations (name, slug, type, brand_id, supplier_id, created_at, updated_at)
            VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
            RETURNING id, created_at, updated_at
        `, org.Name, org.Slug, string(org.Type), brandID, supplierID).Scan(&org.ID, &org.CreatedAt, &org.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create organisation: %w", classify(err))
		}
		owner.OrganisationID = org.ID
		owner.Role = models.RoleOwner
		err = tx.QueryRowContext(ctx, `
            INSERT INTO organisation_memberships (organisation_id, user_id, role, joined_at)
            VALUES ($1, $2, 'owner', NOW())
            RETURNING id, joined_at
        `, org.ID, owner.UserID).Scan(&owner.ID, &owner.JoinedAt)
		if err != nil {
			return fmt.Errorf("failed to add owner membership: %w", classify(err))
		}
		return nil
	})
}

func (s *PostgresStore) GetOrganisation(ctx context.Context, orgID string) (*models.Organisation, error) {
	return scanOrganisation(s.db.QueryRowContext(ctx, `SELECT `+orgColumns+` FROM organisations o WHERE o.id = $1`, orgID))
}

func (s *PostgresStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM organisations WHERE slug = $1)`, slug).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListUserOrganisations(ctx context.Context, userID string) ([]models.UserOrganisation, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT `+orgColumns+`, m.role, m.joined_at
        FROM organisations o
        JOIN organisation_memberships m ON m.organisation_id = o.id
        WHERE m.user_id = $1
        ORDER BY m.joined_at ASC
    `, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list organisations: %w", classify(err))
	}
	defer rows.Close()
	var result []models.UserOrganisation
	for rows.Next() {
		var role string
		var joinedAt time.Time
		o, err := scanOrganisation(rows, &role, &joinedAt)
		if err != nil {
			return nil, err
		}
		result = append(result, models.UserOrganisation{Organisation: *o, Role: models.OrgRole(role), JoinedAt: joinedAt})
	}
	return result, rows.Err()
}

// ================= Memberships =================

func scanMembership(row interface{ Scan(...interface{}) error }) (*models.Membership, error) {
	var m models.Membership
	var role string
	if err := row.Scan(&m.ID, &m.OrganisationID, &m.UserID, &role, &m.JoinedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classify(err)
	}
	m.Role = models.OrgRole(role)
	return &m, nil
}

func (s *PostgresStore) GetMembership(ctx context.Context, orgID, userID string) (*models.Membership, error) {
	return scanMembership(s.db.QueryRowContext(ctx, `
        SELECT id, organisation_id, user_id, role, joined_at
        FROM organisation_memberships
        WHERE organisation_id = $1 AND user_id = $2
    `, orgID, userID))
}

func (s *PostgresStore) ListMembers(ctx context.Context, orgID string) ([]models.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT m.id, m.organisation_id, m.user_id, m.role, m.joined_at, u.name, u.email, u.job_title
        FROM organisation_memberships m
        JOIN users u ON u.id = m.user_id
        WHERE m.organisation_id = $1
        ORDER BY m.joined_at ASC
    `, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", classify(err))
	}
	defer rows.Close()
	var result []models.Member
	for rows.Next() {
		var m models.Member
		var role string
		if err := rows.Scan(&m.ID, &m.OrganisationID, &m.UserID, &role, &m.JoinedAt, &m.Name, &m.Email, &m.JobTitle); err != nil {
			return nil, err
		}
		m.Role = models.OrgRole(role)
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *PostgresStore) DeleteMembership(ctx context.Context, orgID, userID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var role string
		err := tx.QueryRowContext(ctx, `
            SELECT role FROM organisation_memberships
            WHERE organisation_id = $1 AND user_id = $2
            FOR UPDATE
        `, orgID, userID).Scan(&role)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock membership: %w", classify(err))
		}
		if models.OrgRole(role) == models.RoleOwner {
			return ErrOwnerProtected
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM organisation_memberships WHERE organisation_id = $1 AND user_id = $2`, orgID, userID); err != nil {
			return fmt.Errorf("failed to delete membership: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) UpdateMemberRole(ctx context.Context, orgID, userID string, from, to models.OrgRole) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE organisation_memberships SET role = $4
        WHERE organisation_id = $1 AND user_id = $2 AND role = $3
    `, orgID, userID, string(from), string(to))
	if err != nil {
		return fmt.Errorf("failed to update member role: %w", classify(err))
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.GetMembership(ctx, orgID, userID); err != nil {
		return err
	}
	return ErrRoleMismatch
}

func (s *PostgresStore) TransferOwnership(ctx context.Context, orgID, currentOwnerID, newOwnerID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockOrganisation(ctx, tx, orgID); err != nil {
			return err
		}
		rows, err := tx.QueryContext(ctx, `
            SELECT user_id, role FROM organisation_memberships
            WHERE organisation_id = $1 AND user_id IN ($2, $3)
            FOR UPDATE
        `, orgID, currentOwnerID, newOwnerID)
		if err != nil {
			return fmt.Errorf("failed to lock memberships: %w", classify(err))
		}
		roles := map[string]models.OrgRole{}
		for rows.Next() {
			var uid, role string
			if err := rows.Scan(&uid, &role); err != nil {
				rows.Close()
				return err
			}
			roles[uid] = models.OrgRole(role)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		next, ok := roles[newOwnerID]
		if !ok {
			return ErrNotFound
		}
		if roles[currentOwnerID] != models.RoleOwner || next != models.RoleAdmin {
			return ErrRoleMismatch
		}

		// demote first: the one-owner index is checked per statement
		if _, err := tx.ExecContext(ctx, `UPDATE organisation_memberships SET role = 'admin' WHERE organisation_id = $1 AND user_id = $2`, orgID, currentOwnerID); err != nil {
			return fmt.Errorf("failed to demote owner: %w", classify(err))
		}
		if _, err := tx.ExecContext(ctx, `UPDATE organisation_memberships SET role = 'owner' WHERE organisation_id = $1 AND user_id = $2`, orgID, newOwnerID); err != nil {
			return fmt.Errorf("failed to promote new owner: %w", classify(err))
		}
		return nil
	})
}

func lockOrganisation(ctx context.Context, tx *sql.Tx, orgID string) error {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM organisations WHERE id = $1 FOR UPDATE`, orgID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock organisation: %w", classify(err))
	}
	return nil
}

// ================= Invitations =================

const invitationColumns = `id, organisation_id, email, token, role, expires_at, created_at, created_by_id, accepted_at, accepted_by_id`

func scanInvitation(row interface{ Scan(...interface{}) error }) (*models.Invitation, error) {
	var inv models.Invitation
	var role string
	var acceptedAt sql.NullTime
	var acceptedBy sql.NullString
	err := row.Scan(&inv.ID, &inv.OrganisationID, &inv.Email, &inv.Token, &role, &inv.ExpiresAt, &inv.CreatedAt, &inv.CreatedByID, &acceptedAt, &acceptedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classify(err)
	}
	inv.Role = models.OrgRole(role)
	if acceptedAt.Valid {
		t := acceptedAt.Time
		inv.AcceptedAt = &t
	}
	inv.AcceptedByID = nullStringPtr(acceptedBy)
	return &inv, nil
}

func (s *PostgresStore) CreateInvitation(ctx context.Context, inv *models.Invitation, now time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockOrganisation(ctx, tx, inv.OrganisationID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
            DELETE FROM organisation_invitations
            WHERE organisation_id = $1 AND email = $2 AND accepted_at IS NULL AND expires_at < $3
        `, inv.OrganisationID, inv.Email, now); err != nil {
			return fmt.Errorf("failed to delete expired invitations: %w", err)
		}
		var live bool
		if err := tx.QueryRowContext(ctx, `
            SELECT EXISTS (
                SELECT 1 FROM organisation_invitations
                WHERE organisation_id = $1 AND email = $2 AND accepted_at IS NULL
            )
        `, inv.OrganisationID, inv.Email).Scan(&live); err != nil {
			return fmt.Errorf("failed to check pending invitations: %w", err)
		}
		if live {
			return ErrLiveInvitation
		}
		inv.CreatedAt = now
		err := tx.QueryRowContext(ctx, `
            INSERT INTO organisation_invitations (organisation_id, email, token, role, expires_at, created_at, created_by_id)
            VALUES ($1, $2, $3, $4, $5, $6, $7)
            RETURNING id
        `, inv.OrganisationID, inv.Email, inv.Token, string(inv.Role), inv.ExpiresAt, now, inv.CreatedByID).Scan(&inv.ID)
		if err != nil {
			err = classify(err)
			if errors.Is(err, ErrDuplicate) {
				return ErrLiveInvitation
			}
			return fmt.Errorf("failed to create invitation: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) GetInvitationByToken(ctx context.Context, token string) (*models.Invitation, error) {
	return scanInvitation(s.db.QueryRowContext(ctx, `SELECT `+invitationColumns+` FROM organisation_invitations WHERE token = $1`, token))
}

func (s *PostgresStore) ListInvitations(ctx context.Context, orgID string) ([]models.Invitation, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT `+invitationColumns+` FROM organisation_invitations
        WHERE organisation_id = $1
        ORDER BY created_at DESC
    `, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", classify(err))
	}
	defer rows.Close()
	var list []models.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *inv)
	}
	return list, rows.Err()
}

func (s *PostgresStore) AcceptInvitation(ctx context.Context, token, userID string, now time.Time) (*models.Membership, error) {
	var membership *models.Membership
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		inv, err := scanInvitation(tx.QueryRowContext(ctx, `SELECT `+invitationColumns+` FROM organisation_invitations WHERE token = $1 FOR UPDATE`, token))
		if err != nil {
			return err
		}
		if inv.ExpiredAt(now) {
			return ErrInviteExpired
		}
		if inv.AcceptedAt != nil {
			return ErrInviteAccepted
		}
		var member bool
		if err := tx.QueryRowContext(ctx, `
            SELECT EXISTS (SELECT 1 FROM organisation_memberships WHERE organisation_id = $1 AND user_id = $2)
        `, inv.OrganisationID, userID).Scan(&member); err != nil {
			return fmt.Errorf("failed to check membership: %w", err)
		}
		if member {
			return ErrAlreadyMember
		}

		m := &models.Membership{OrganisationID: inv.OrganisationID, UserID: userID, Role: inv.Role, JoinedAt: now}
		err = tx.QueryRowContext(ctx, `
            INSERT INTO organisation_memberships (organisation_id, user_id, role, joined_at)
            VALUES ($1, $2, $3, $4)
            RETURNING id
        `, m.OrganisationID, m.UserID, string(m.Role), now).Scan(&m.ID)
		if err != nil {
			err = classify(err)
			if errors.Is(err, ErrDuplicate) {
				return ErrAlreadyMember
			}
			return fmt.Errorf("failed to add membership: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
            UPDATE organisation_invitations SET accepted_at = $1, accepted_by_id = $2
            WHERE id = $3 AND accepted_at IS NULL
        `, now, userID, inv.ID)
		if err != nil {
			return fmt.Errorf("failed to mark invitation accepted: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return ErrInviteAccepted
		}
		membership = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return membership, nil
}

// HealthCheck 健康检查
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close 关闭连接
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
