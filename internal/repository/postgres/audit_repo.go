package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CaioWing/Fiscus/internal/domain"
)

const (
	defaultAuditPerPage = 20
	maxAuditPerPage     = 200
)

// AuditRepo stores the append-only audit trail. The table rejects updates and
// deletes, so the repository only inserts and reads.
type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) Create(ctx context.Context, entry *domain.AuditEntry) error {
	details := entry.Details
	if details == nil {
		details = map[string]any{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO audit_log (
			actor, actor_type, action, resource_type, resource_reference,
			changes_summary, status, error_message, details, ip_address
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`, entry.Actor, entry.ActorType, entry.Action, entry.ResourceType, entry.ResourceReference,
		entry.ChangesSummary, entry.Status, entry.ErrorMessage, detailsJSON, entry.IPAddress).
		Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// auditWhere builds the WHERE clause for f. Placeholders start at $1.
func auditWhere(f domain.AuditFilter) (string, []any) {
	where := "WHERE 1=1"
	args := []any{}

	add := func(column string, value any) {
		args = append(args, value)
		where += fmt.Sprintf(" AND %s = $%d", column, len(args))
	}
	if f.Actor != nil {
		add("actor", *f.Actor)
	}
	if f.Action != nil {
		add("action", *f.Action)
	}
	if f.ResourceType != nil {
		add("resource_type", *f.ResourceType)
	}
	if f.ResourceReference != nil {
		add("resource_reference", *f.ResourceReference)
	}
	if f.Status != nil {
		add("status", string(*f.Status))
	}
	return where, args
}

func normalizeAuditFilter(f domain.AuditFilter) domain.AuditFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = defaultAuditPerPage
	}
	if f.PerPage > maxAuditPerPage {
		f.PerPage = maxAuditPerPage
	}
	if f.SortOrder != "asc" {
		f.SortOrder = "desc"
	}
	return f
}

func (r *AuditRepo) List(ctx context.Context, f domain.AuditFilter) ([]*domain.AuditEntry, int, error) {
	f = normalizeAuditFilter(f)
	where, args := auditWhere(f)

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_log "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	orderDir := "DESC"
	if f.SortOrder == "asc" {
		orderDir = "ASC"
	}

	offset := (f.Page - 1) * f.PerPage
	query := fmt.Sprintf(`
		SELECT id, actor, actor_type, action, resource_type, resource_reference,
		       changes_summary, status, error_message, details, ip_address, created_at
		FROM audit_log %s
		ORDER BY created_at %s, id %s
		LIMIT $%d OFFSET $%d
	`, where, orderDir, orderDir, len(args)+1, len(args)+2)
	args = append(args, f.PerPage, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*domain.AuditEntry{}
	for rows.Next() {
		e := &domain.AuditEntry{}
		var detailsJSON []byte
		if err := rows.Scan(
			&e.ID, &e.Actor, &e.ActorType, &e.Action, &e.ResourceType, &e.ResourceReference,
			&e.ChangesSummary, &e.Status, &e.ErrorMessage, &detailsJSON, &e.IPAddress, &e.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan audit entry: %w", err)
		}
		if err := json.Unmarshal(detailsJSON, &e.Details); err != nil {
			e.Details = map[string]any{}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate audit entries: %w", err)
	}

	return entries, total, nil
}
