package scanaudit

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthmesh/healthmesh/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type auditRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &auditRepoPG{pool: pool}
}

func (r *auditRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const auditCols = `id, event_id, tenant_id, registration_id, patient_id,
	scanned_at, scanned_by_user_id, scanned_by_role, access_purpose,
	allowed, denial_reason,
	source_ip, user_agent, device_id, location, session_id, request_id,
	data_views, export_performed, print_performed, created_at`

func scanAuditRecord(row pgx.Row) (*ScanAuditRecord, error) {
	var rec ScanAuditRecord
	err := row.Scan(
		&rec.ID, &rec.EventID, &rec.TenantID, &rec.RegistrationID, &rec.PatientID,
		&rec.ScannedAt, &rec.ScannedByUserID, &rec.ScannedByRole, &rec.AccessPurpose,
		&rec.Allowed, &rec.DenialReason,
		&rec.SourceIP, &rec.UserAgent, &rec.DeviceID, &rec.Location, &rec.SessionID, &rec.RequestID,
		&rec.DataViews, &rec.ExportPerformed, &rec.PrintPerformed, &rec.CreatedAt,
	)
	return &rec, err
}

func (r *auditRepoPG) Create(ctx context.Context, rec *ScanAuditRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO scan_audit (id, event_id, tenant_id, registration_id, patient_id,
			scanned_at, scanned_by_user_id, scanned_by_role, access_purpose,
			allowed, denial_reason,
			source_ip, user_agent, device_id, location, session_id, request_id,
			data_views, export_performed, print_performed)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		rec.ID, rec.EventID, rec.TenantID, rec.RegistrationID, rec.PatientID,
		rec.ScannedAt, rec.ScannedByUserID, rec.ScannedByRole, rec.AccessPurpose,
		rec.Allowed, rec.DenialReason,
		rec.SourceIP, rec.UserAgent, rec.DeviceID, rec.Location, rec.SessionID, rec.RequestID,
		rec.DataViews, rec.ExportPerformed, rec.PrintPerformed)
	return err
}

func (r *auditRepoPG) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*ScanAuditRecord, error) {
	rec, err := scanAuditRecord(r.conn(ctx).QueryRow(ctx,
		`SELECT `+auditCols+` FROM scan_audit WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (r *auditRepoPG) List(ctx context.Context, tenantID string, filter Filter, limit, offset int) ([]*ScanAuditRecord, int, error) {
	where := "tenant_id = $1"
	args := []interface{}{tenantID}

	add := func(clause string, v interface{}) {
		args = append(args, v)
		where += fmt.Sprintf(" AND %s $%d", clause, len(args))
	}
	if filter.PatientID != nil {
		add("patient_id =", *filter.PatientID)
	}
	if filter.RegistrationID != nil {
		add("registration_id =", *filter.RegistrationID)
	}
	if filter.ScannedByUser != "" {
		add("scanned_by_user_id =", filter.ScannedByUser)
	}
	if filter.Allowed != nil {
		add("allowed =", *filter.Allowed)
	}
	if filter.From != nil {
		add("scanned_at >=", *filter.From)
	}
	if filter.To != nil {
		add("scanned_at <", *filter.To)
	}

	q := r.conn(ctx)

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM scan_audit WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := q.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM scan_audit WHERE %s ORDER BY event_id DESC LIMIT $%d OFFSET $%d`,
		auditCols, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*ScanAuditRecord
	for rows.Next() {
		rec, err := scanAuditRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rec)
	}
	return items, total, rows.Err()
}

func (r *auditRepoPG) UpdateUsage(ctx context.Context, tenantID string, id uuid.UUID, update UsageUpdate) (*ScanAuditRecord, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE scan_audit
		SET data_views = COALESCE($3, data_views),
			export_performed = COALESCE($4, export_performed),
			print_performed = COALESCE($5, print_performed)
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, update.DataViews, update.ExportPerformed, update.PrintPerformed)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, tenantID, id)
}
