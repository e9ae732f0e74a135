// internal/repository/postgres/scoped.go
//
// Scoped is a generic data-access facade that applies the tenant-id and
// soft-delete predicates to every query and write, so no call site ever
// hand-writes them. The relational tables carry no database-level row
// security; this predicate discipline is a hard correctness requirement.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	xerrors "identity-service/internal/pkg/errors"
	"identity-service/internal/pkg/tenantctx"
)

// QueryOptions controls the cross-cutting filters.
type QueryOptions struct {
	// IgnoreFilters lifts the tenant and soft-delete predicates. It is
	// honored only when the resolved caller is a platform admin and is
	// silently treated as false otherwise (fail-closed).
	IgnoreFilters bool
}

// Mapper describes how an entity maps onto its table.
type Mapper[T any] struct {
	Table   string
	Columns []string
	OrderBy string

	// GlobalScope marks entities that are visible regardless of tenant
	// (notably tenants themselves). The tenant predicate is skipped
	// entirely; the soft-delete predicate still applies.
	GlobalScope bool

	ScanRow       func(row pgx.Row) (*T, error)
	InsertColumns func(e *T) ([]string, []any)
	UpdateColumns func(e *T) ([]string, []any)
	ID            func(e *T) uuid.UUID
	TenantID      func(e *T) uuid.UUID
	SetTenantID   func(e *T, id uuid.UUID)
}

type Scoped[T any] struct {
	db *pgxpool.Pool
	m  Mapper[T]
}

func NewScoped[T any](db *pgxpool.Pool, m Mapper[T]) *Scoped[T] {
	return &Scoped[T]{db: db, m: m}
}

// filtersLifted reports whether the caller may and did lift the filters.
func filtersLifted(tc *tenantctx.TenantContext, opts QueryOptions) bool {
	return opts.IgnoreFilters && tc.IsPlatformAdmin
}

// scopeClauses builds the implicit predicate set. nextArg is the first
// free placeholder index; returned args extend the caller's argument list.
func scopeClauses[T any](m Mapper[T], tc *tenantctx.TenantContext, opts QueryOptions, nextArg int) ([]string, []any, error) {
	if filtersLifted(tc, opts) {
		return nil, nil, nil
	}

	clauses := []string{"is_deleted = FALSE"}
	var args []any

	if !m.GlobalScope {
		if tc.TenantID == nil {
			return nil, nil, xerrors.ErrNoTenantSelected
		}
		clauses = append(clauses, fmt.Sprintf("tenant_id = $%d", nextArg))
		args = append(args, *tc.TenantID)
	}
	return clauses, args, nil
}

func whereClause(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(clauses, " AND ")
}

// GetAll returns every visible row.
func (r *Scoped[T]) GetAll(ctx context.Context, tc *tenantctx.TenantContext, opts QueryOptions) ([]*T, error) {
	clauses, args, err := scopeClauses(r.m, tc, opts, 1)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(r.m.Columns, ", "), r.m.Table, whereClause(clauses))
	if r.m.OrderBy != "" {
		query += " ORDER BY " + r.m.OrderBy
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", r.m.Table, err)
	}
	defer rows.Close()

	return r.collect(rows)
}

// GetPaged returns one page of visible rows plus the total count.
func (r *Scoped[T]) GetPaged(ctx context.Context, tc *tenantctx.TenantContext, page, pageSize int, opts QueryOptions) ([]*T, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	clauses, args, err := scopeClauses(r.m, tc, opts, 1)
	if err != nil {
		return nil, 0, err
	}
	where := whereClause(clauses)

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", r.m.Table, where)
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count %s: %w", r.m.Table, err)
	}

	query := fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(r.m.Columns, ", "), r.m.Table, where)
	if r.m.OrderBy != "" {
		query += " ORDER BY " + r.m.OrderBy
	}
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", pageSize, (page-1)*pageSize)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query %s: %w", r.m.Table, err)
	}
	defer rows.Close()

	items, err := r.collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// GetByID returns the row iff it is visible to the caller. A row owned by
// a different tenant is reported as not found, never as forbidden, so
// cross-tenant existence is not confirmed.
func (r *Scoped[T]) GetByID(ctx context.Context, tc *tenantctx.TenantContext, id uuid.UUID, opts QueryOptions) (*T, error) {
	clauses, args, err := scopeClauses(r.m, tc, opts, 2)
	if err != nil {
		return nil, err
	}
	clauses = append([]string{"id = $1"}, clauses...)
	args = append([]any{id}, args...)

	query := fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(r.m.Columns, ", "), r.m.Table, whereClause(clauses))

	entity, err := r.m.ScanRow(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find %s row: %w", r.m.Table, err)
	}
	return entity, nil
}

// Add inserts the entity. The tenant id is auto-populated from the
// resolver when unset; an explicitly-set tenant id that differs from the
// resolved tenant is rejected unless the caller is a platform admin.
func (r *Scoped[T]) Add(ctx context.Context, tc *tenantctx.TenantContext, entity *T) error {
	if !r.m.GlobalScope {
		tid := r.m.TenantID(entity)
		switch {
		case tid == uuid.Nil:
			if tc.TenantID == nil {
				return xerrors.ErrNoTenantSelected
			}
			r.m.SetTenantID(entity, *tc.TenantID)
		case tc.IsPlatformAdmin:
			// admins may write into any tenant explicitly
		case tc.TenantID == nil || tid != *tc.TenantID:
			return xerrors.ErrTenantMismatch
		}
	}

	cols, vals := r.m.InsertColumns(entity)
	placeholders := make([]string, len(vals))
	for i := range vals {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		r.m.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	if _, err := r.db.Exec(ctx, query, vals...); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", r.m.Table, err)
	}
	return nil
}

// Update rewrites the entity's updatable columns, constrained to visible
// rows. Updating a row the caller cannot see reports not found.
func (r *Scoped[T]) Update(ctx context.Context, tc *tenantctx.TenantContext, entity *T, opts QueryOptions) error {
	cols, vals := r.m.UpdateColumns(entity)

	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", col, i+1)
	}

	next := len(vals) + 1
	clauses, scopeArgs, err := scopeClauses(r.m, tc, opts, next+1)
	if err != nil {
		return err
	}
	clauses = append([]string{fmt.Sprintf("id = $%d", next)}, clauses...)

	args := append(vals, any(r.m.ID(entity)))
	args = append(args, scopeArgs...)

	query := fmt.Sprintf("UPDATE %s SET %s%s", r.m.Table, strings.Join(sets, ", "), whereClause(clauses))

	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", r.m.Table, err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// SoftDelete marks the row deleted and stamps the deletion time; the row
// is never physically removed.
func (r *Scoped[T]) SoftDelete(ctx context.Context, tc *tenantctx.TenantContext, id uuid.UUID) error {
	clauses, scopeArgs, err := scopeClauses(r.m, tc, QueryOptions{}, 3)
	if err != nil {
		return err
	}
	clauses = append([]string{"id = $2"}, clauses...)

	args := append([]any{time.Now(), id}, scopeArgs...)
	query := fmt.Sprintf("UPDATE %s SET is_deleted = TRUE, deleted_at = $1%s", r.m.Table, whereClause(clauses))

	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to soft-delete from %s: %w", r.m.Table, err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (r *Scoped[T]) collect(rows pgx.Rows) ([]*T, error) {
	var items []*T
	for rows.Next() {
		entity, err := r.m.ScanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", r.m.Table, err)
		}
		items = append(items, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s rows: %w", r.m.Table, err)
	}
	return items, nil
}
