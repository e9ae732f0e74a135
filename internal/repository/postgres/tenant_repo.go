// internal/repository/postgres/tenant_repo.go
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"identity-service/internal/domain/tenant"
	xerrors "identity-service/internal/pkg/errors"
	"identity-service/internal/pkg/tenantctx"
)

// TenantRepository manages tenants, memberships and role assignments.
// Tenant rows are globally visible (they are the scoping dimension, not a
// scoped entity), so the scoped facade runs with GlobalScope set: the
// soft-delete predicate applies, the tenant predicate does not.
type TenantRepository struct {
	db     *DB
	scoped *Scoped[tenant.Tenant]
}

func NewTenantRepository(db *DB) *TenantRepository {
	return &TenantRepository{
		db:     db,
		scoped: NewScoped(db.Pool(), tenantMapper()),
	}
}

func tenantMapper() Mapper[tenant.Tenant] {
	return Mapper[tenant.Tenant]{
		Table: "tenants",
		Columns: []string{
			"id", "name", "slug", "display_name",
			"is_active", "is_platform_tenant", "is_deleted",
			"settings", "created_at", "updated_at", "deleted_at",
		},
		OrderBy:     "created_at DESC",
		GlobalScope: true,
		ScanRow:     scanTenant,
		InsertColumns: func(t *tenant.Tenant) ([]string, []any) {
			return []string{
					"id", "name", "slug", "display_name",
					"is_active", "is_platform_tenant", "settings",
					"created_at", "updated_at",
				}, []any{
					t.ID, t.Name, t.Slug, t.DisplayName,
					t.IsActive, t.IsPlatformTenant, settingsJSON(t.Settings),
					t.CreatedAt, t.UpdatedAt,
				}
		},
		UpdateColumns: func(t *tenant.Tenant) ([]string, []any) {
			return []string{"name", "display_name", "is_active", "settings", "updated_at"},
				[]any{t.Name, t.DisplayName, t.IsActive, settingsJSON(t.Settings), time.Now()}
		},
		ID:          func(t *tenant.Tenant) uuid.UUID { return t.ID },
		TenantID:    func(t *tenant.Tenant) uuid.UUID { return uuid.Nil },
		SetTenantID: func(t *tenant.Tenant, id uuid.UUID) {},
	}
}

func settingsJSON(settings map[string]interface{}) []byte {
	if settings == nil {
		return []byte("{}")
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return []byte("{}")
	}
	return data
}

func scanTenant(row pgx.Row) (*tenant.Tenant, error) {
	var t tenant.Tenant
	var settings []byte
	err := row.Scan(
		&t.ID, &t.Name, &t.Slug, &t.DisplayName,
		&t.IsActive, &t.IsPlatformTenant, &t.IsDeleted,
		&settings, &t.CreatedAt, &t.UpdatedAt, &t.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &t.Settings); err != nil {
			return nil, fmt.Errorf("failed to decode tenant settings: %w", err)
		}
	}
	return &t, nil
}

// Create inserts a tenant. A duplicate slug surfaces as a conflict.
func (r *TenantRepository) Create(ctx context.Context, tc *tenantctx.TenantContext, t *tenant.Tenant) error {
	if err := r.scoped.Add(ctx, tc, t); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return xerrors.ErrConflict
		}
		return err
	}
	return nil
}

func (r *TenantRepository) GetByID(ctx context.Context, tc *tenantctx.TenantContext, id uuid.UUID, opts QueryOptions) (*tenant.Tenant, error) {
	return r.scoped.GetByID(ctx, tc, id, opts)
}

func (r *TenantRepository) List(ctx context.Context, tc *tenantctx.TenantContext, page, pageSize int, opts QueryOptions) ([]*tenant.Tenant, int64, error) {
	return r.scoped.GetPaged(ctx, tc, page, pageSize, opts)
}

func (r *TenantRepository) Update(ctx context.Context, tc *tenantctx.TenantContext, t *tenant.Tenant, opts QueryOptions) error {
	return r.scoped.Update(ctx, tc, t, opts)
}

func (r *TenantRepository) SoftDelete(ctx context.Context, tc *tenantctx.TenantContext, id uuid.UUID) error {
	return r.scoped.SoftDelete(ctx, tc, id)
}

// FindByID is the unfiltered lookup used during session resolution. The
// caller inspects the active/deleted flags itself; filtering here would
// make a deactivated tenant indistinguishable from a missing one.
func (r *TenantRepository) FindByID(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error) {
	query := `
		SELECT id, name, slug, display_name,
		       is_active, is_platform_tenant, is_deleted,
		       settings, created_at, updated_at, deleted_at
		FROM tenants
		WHERE id = $1`

	t, err := scanTenant(r.db.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find tenant: %w", err)
	}
	return t, nil
}

// HasActiveMembership reports whether the user holds a live membership row
// in the tenant.
func (r *TenantRepository) HasActiveMembership(ctx context.Context, userID, tenantID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM tenant_users
			WHERE user_id = $1 AND tenant_id = $2
			  AND is_active = TRUE AND is_deleted = FALSE
		)`

	var exists bool
	if err := r.db.pool.QueryRow(ctx, query, userID, tenantID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return exists, nil
}

// AddUserWithRoles attaches a user to a tenant and grants the initial role
// set in a single transaction, so a membership never lands without its
// roles. A previously removed membership is reactivated in place rather
// than duplicated.
func (r *TenantRepository) AddUserWithRoles(ctx context.Context, tenantID, userID uuid.UUID, roles []string) (*tenant.TenantUser, error) {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin membership transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	insertQuery := `
		INSERT INTO tenant_users (id, tenant_id, user_id, is_active, joined_at)
		VALUES ($1, $2, $3, TRUE, $4)
		ON CONFLICT (tenant_id, user_id) DO UPDATE
			SET is_active = TRUE, is_deleted = FALSE, deleted_at = NULL
		RETURNING id, tenant_id, user_id, is_active, is_deleted, joined_at, deleted_at`

	var tu tenant.TenantUser
	err = tx.QueryRow(ctx, insertQuery, uuid.New(), tenantID, userID, time.Now()).Scan(
		&tu.ID, &tu.TenantID, &tu.UserID, &tu.IsActive, &tu.IsDeleted, &tu.JoinedAt, &tu.DeletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to add tenant user: %w", err)
	}

	roleQuery := `
		INSERT INTO role_assignments (id, tenant_user_id, role_name, assigned_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_user_id, role_name) DO NOTHING`
	for _, role := range roles {
		if _, err := tx.Exec(ctx, roleQuery, uuid.New(), tu.ID, role, time.Now()); err != nil {
			return nil, fmt.Errorf("failed to assign role: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit membership transaction: %w", err)
	}
	return &tu, nil
}

// RemoveUser soft-deletes the membership. Role assignments are kept so a
// reactivated membership regains them.
func (r *TenantRepository) RemoveUser(ctx context.Context, tenantID, userID uuid.UUID) error {
	query := `
		UPDATE tenant_users
		SET is_active = FALSE, is_deleted = TRUE, deleted_at = $1
		WHERE tenant_id = $2 AND user_id = $3 AND is_deleted = FALSE`

	result, err := r.db.pool.Exec(ctx, query, time.Now(), tenantID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove tenant user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// EffectiveRoles returns the union of role names assigned to the user's
// membership in the tenant.
func (r *TenantRepository) EffectiveRoles(ctx context.Context, userID, tenantID uuid.UUID) ([]string, error) {
	query := `
		SELECT COALESCE(array_agg(ra.role_name ORDER BY ra.role_name), '{}')
		FROM tenant_users tu
		JOIN role_assignments ra ON ra.tenant_user_id = tu.id
		WHERE tu.user_id = $1 AND tu.tenant_id = $2
		  AND tu.is_active = TRUE AND tu.is_deleted = FALSE`

	var roles pq.StringArray
	if err := r.db.pool.QueryRow(ctx, query, userID, tenantID).Scan(&roles); err != nil {
		return nil, fmt.Errorf("failed to load effective roles: %w", err)
	}
	return []string(roles), nil
}

// Memberships lists the active, non-deleted tenants the user belongs to,
// with the roles held in each.
func (r *TenantRepository) Memberships(ctx context.Context, userID uuid.UUID) ([]*tenant.Summary, error) {
	query := `
		SELECT t.id, t.name, t.slug, t.display_name, tu.joined_at,
		       COALESCE(array_agg(ra.role_name ORDER BY ra.role_name)
		                FILTER (WHERE ra.role_name IS NOT NULL), '{}')
		FROM tenant_users tu
		JOIN tenants t ON t.id = tu.tenant_id
		LEFT JOIN role_assignments ra ON ra.tenant_user_id = tu.id
		WHERE tu.user_id = $1
		  AND tu.is_active = TRUE AND tu.is_deleted = FALSE
		  AND t.is_active = TRUE AND t.is_deleted = FALSE
		GROUP BY t.id, t.name, t.slug, t.display_name, tu.joined_at
		ORDER BY t.name`

	rows, err := r.db.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer rows.Close()

	var summaries []*tenant.Summary
	for rows.Next() {
		var s tenant.Summary
		var roles pq.StringArray
		if err := rows.Scan(&s.ID, &s.Name, &s.Slug, &s.DisplayName, &s.JoinedAt, &roles); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		s.Roles = []string(roles)
		summaries = append(summaries, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read memberships: %w", err)
	}
	return summaries, nil
}

// ListMembers lists the users attached to a tenant with their roles.
func (r *TenantRepository) ListMembers(ctx context.Context, tenantID uuid.UUID) ([]*tenant.Member, error) {
	query := `
		SELECT u.id, u.email, COALESCE(u.display_name, ''), tu.is_active, tu.joined_at,
		       COALESCE(array_agg(ra.role_name ORDER BY ra.role_name)
		                FILTER (WHERE ra.role_name IS NOT NULL), '{}')
		FROM tenant_users tu
		JOIN users u ON u.id = tu.user_id
		LEFT JOIN role_assignments ra ON ra.tenant_user_id = tu.id
		WHERE tu.tenant_id = $1 AND tu.is_deleted = FALSE
		GROUP BY u.id, u.email, u.display_name, tu.is_active, tu.joined_at
		ORDER BY u.email`

	rows, err := r.db.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant members: %w", err)
	}
	defer rows.Close()

	var members []*tenant.Member
	for rows.Next() {
		var m tenant.Member
		var roles pq.StringArray
		if err := rows.Scan(&m.UserID, &m.Email, &m.DisplayName, &m.IsActive, &m.JoinedAt, &roles); err != nil {
			return nil, fmt.Errorf("failed to scan tenant member: %w", err)
		}
		m.Roles = []string(roles)
		members = append(members, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tenant members: %w", err)
	}
	return members, nil
}
