package qrtoken

import (
	"context"
	"errors"
	"time"

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

type registrationRepoPG struct{ pool *pgxpool.Pool }

func NewRegistrationRepoPG(pool *pgxpool.Pool) RegistrationRepository {
	return &registrationRepoPG{pool: pool}
}

func (r *registrationRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const regCols = `id, tenant_id, patient_id, fhir_patient_id, master_patient_identifier,
	token_ciphertext, token_hash, issued_at, expires_at, is_active,
	revoked_at, revocation_reason, revoked_by_user_id, created_by_user_id, created_at`

func scanRegistration(row pgx.Row) (*PatientQrRegistration, error) {
	var reg PatientQrRegistration
	err := row.Scan(
		&reg.ID, &reg.TenantID, &reg.PatientID, &reg.FHIRPatientID, &reg.MasterPatientIdentifier,
		&reg.TokenCiphertext, &reg.TokenHash, &reg.IssuedAt, &reg.ExpiresAt, &reg.IsActive,
		&reg.RevokedAt, &reg.RevocationReason, &reg.RevokedByUserID, &reg.CreatedByUserID, &reg.CreatedAt,
	)
	return &reg, err
}

func (r *registrationRepoPG) CreateWithCap(ctx context.Context, reg *PatientQrRegistration, maxActive int) ([]uuid.UUID, error) {
	if reg.ID == uuid.Nil {
		reg.ID = uuid.New()
	}

	var autoRevoked []uuid.UUID
	err := db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)

		// Serialize issuance per patient. Row locks cannot do that when the
		// patient has no active rows yet, so take a transaction-scoped
		// advisory lock on (tenant, patient) before counting.
		if maxActive > 0 {
			if _, err := q.Exec(ctx,
				`SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))`,
				reg.TenantID, reg.PatientID.String()); err != nil {
				return err
			}

			rows, err := q.Query(ctx, `
				SELECT id FROM patient_qr_registration
				WHERE tenant_id = $1 AND patient_id = $2 AND is_active
				ORDER BY issued_at ASC, created_at ASC`,
				reg.TenantID, reg.PatientID)
			if err != nil {
				return err
			}
			var active []uuid.UUID
			for rows.Next() {
				var id uuid.UUID
				if err := rows.Scan(&id); err != nil {
					rows.Close()
					return err
				}
				active = append(active, id)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return err
			}

			// The new row counts toward the cap: revoke the oldest actives
			// until cap-1 remain.
			if excess := len(active) - (maxActive - 1); excess > 0 {
				autoRevoked = active[:excess]
			}
		}

		_, err := q.Exec(ctx, `
			INSERT INTO patient_qr_registration (id, tenant_id, patient_id, fhir_patient_id,
				master_patient_identifier, token_ciphertext, token_hash,
				issued_at, expires_at, is_active, created_by_user_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			reg.ID, reg.TenantID, reg.PatientID, reg.FHIRPatientID,
			reg.MasterPatientIdentifier, reg.TokenCiphertext, reg.TokenHash,
			reg.IssuedAt, reg.ExpiresAt, reg.IsActive, reg.CreatedByUserID)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return ErrDuplicateTokenHash
			}
			return err
		}

		if len(autoRevoked) > 0 {
			_, err = q.Exec(ctx, `
				UPDATE patient_qr_registration
				SET is_active = false, revoked_at = NOW(),
					revocation_reason = 'superseded by newer registration',
					revoked_by_user_id = $2
				WHERE id = ANY($1) AND is_active`,
				autoRevoked, reg.CreatedByUserID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return autoRevoked, nil
}

func (r *registrationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*PatientQrRegistration, error) {
	reg, err := scanRegistration(r.conn(ctx).QueryRow(ctx,
		`SELECT `+regCols+` FROM patient_qr_registration WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return reg, err
}

func (r *registrationRepoPG) GetByTokenHash(ctx context.Context, tokenHash string) (*PatientQrRegistration, error) {
	reg, err := scanRegistration(r.conn(ctx).QueryRow(ctx,
		`SELECT `+regCols+` FROM patient_qr_registration WHERE token_hash = $1`, tokenHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return reg, err
}

func (r *registrationRepoPG) ListByPatient(ctx context.Context, tenantID string, patientID uuid.UUID, limit, offset int) ([]*PatientQrRegistration, int, error) {
	q := r.conn(ctx)

	var total int
	if err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM patient_qr_registration WHERE tenant_id = $1 AND patient_id = $2`,
		tenantID, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := q.Query(ctx,
		`SELECT `+regCols+` FROM patient_qr_registration
		WHERE tenant_id = $1 AND patient_id = $2
		ORDER BY issued_at DESC LIMIT $3 OFFSET $4`,
		tenantID, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*PatientQrRegistration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, reg)
	}
	return items, total, rows.Err()
}

func (r *registrationRepoPG) Revoke(ctx context.Context, id uuid.UUID, reason, revokedByUserID string, at time.Time) (*PatientQrRegistration, bool, error) {
	q := r.conn(ctx)

	// Only the Active -> Revoked edge writes; a second call falls through to
	// the read below and reports the existing terminal state.
	tag, err := q.Exec(ctx, `
		UPDATE patient_qr_registration
		SET is_active = false, revoked_at = $2, revocation_reason = $3, revoked_by_user_id = $4
		WHERE id = $1 AND is_active`,
		id, at, reason, revokedByUserID)
	if err != nil {
		return nil, false, err
	}

	reg, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return reg, tag.RowsAffected() == 0, nil
}
