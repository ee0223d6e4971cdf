/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL needed to interact with the
 * applications, documents, status-history, assignment, and profile tables.
 *
 * The guarded transition methods are the correctness core of the service:
 * each one runs a conditional UPDATE (the guard is part of the WHERE
 * clause) together with the status-history append inside a single database
 * transaction, so concurrent webhook deliveries or a webhook racing a
 * reviewer action serialize on the row and at most one of them applies.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/admitly/application-service/internal/domain"
)

var (
	ErrProfileNotFound         = errors.New("profile not found")
	ErrApplicationNotFound     = errors.New("application not found")
	ErrDocumentNotFound        = errors.New("document not found")
	ErrNotDraft                = errors.New("application is not a draft")
	ErrVersionConflict         = errors.New("draft version conflict")
	ErrInvalidTransition       = errors.New("invalid status transition")
	ErrDecisionMissing         = errors.New("no decision recorded")
	ErrActiveApplicationExists = errors.New("an active application already exists for this user")
	ErrAssignmentAlreadyExists = errors.New("reviewer is already assigned")
)

// PostgresRepository is a concrete implementation of the Repository
// interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const applicationColumns = `
	id, owner_id, current_status, payment_verified, payment_method,
	processor_payment_id, processor_status, payment_verified_by, decision,
	full_name, date_of_birth, school, gpa, country, state, class_year,
	financial_aid_requested, financial_aid_essay, attestation_text,
	version, payment_verified_at, decision_released_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(row rowScanner) (*domain.Application, error) {
	var app domain.Application
	err := row.Scan(
		&app.ID, &app.OwnerID, &app.CurrentStatus, &app.PaymentVerified, &app.PaymentMethod,
		&app.ProcessorPaymentID, &app.ProcessorStatus, &app.PaymentVerifiedBy, &app.Decision,
		&app.FullName, &app.DateOfBirth, &app.School, &app.GPA, &app.Country, &app.State, &app.ClassYear,
		&app.FinancialAidRequested, &app.FinancialAidEssay, &app.AttestationText,
		&app.Version, &app.PaymentVerifiedAt, &app.DecisionReleasedAt, &app.CreatedAt, &app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// FindProfileBySubject retrieves a profile by the JWT subject of the caller.
func (r *PostgresRepository) FindProfileBySubject(ctx context.Context, subject string) (*domain.Profile, error) {
	var p domain.Profile
	query := `SELECT user_id, subject, email, role, created_at FROM profiles WHERE subject = $1`
	err := r.db.QueryRow(ctx, query, subject).Scan(&p.UserID, &p.Subject, &p.Email, &p.Role, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &p, nil
}

// FindProfileByUserID retrieves a profile by its internal user id.
func (r *PostgresRepository) FindProfileByUserID(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	var p domain.Profile
	query := `SELECT user_id, subject, email, role, created_at FROM profiles WHERE user_id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(&p.UserID, &p.Subject, &p.Email, &p.Role, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &p, nil
}

// CreateApplication inserts a fresh draft for the owner. The partial unique
// index on (owner_id) for non-released applications maps to
// ErrActiveApplicationExists.
func (r *PostgresRepository) CreateApplication(ctx context.Context, ownerID uuid.UUID) (*domain.Application, error) {
	query := `
		INSERT INTO applications (id, owner_id, current_status)
		VALUES ($1, $2, 'draft')
		RETURNING ` + applicationColumns
	row := r.db.QueryRow(ctx, query, uuid.New(), ownerID)
	app, err := scanApplication(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrActiveApplicationExists
		}
		return nil, err
	}
	return app, nil
}

// FindApplicationByID retrieves a single application.
func (r *PostgresRepository) FindApplicationByID(ctx context.Context, id uuid.UUID) (*domain.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE id = $1`
	app, err := scanApplication(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrApplicationNotFound
		}
		return nil, err
	}
	return app, nil
}

// FindApplicationByProcessorPaymentID retrieves the application holding a
// given payment-intent reference.
func (r *PostgresRepository) FindApplicationByProcessorPaymentID(ctx context.Context, intentID string) (*domain.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE processor_payment_id = $1`
	app, err := scanApplication(r.db.QueryRow(ctx, query, intentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrApplicationNotFound
		}
		return nil, err
	}
	return app, nil
}

// ListApplications returns applications matching the filter, newest first.
func (r *PostgresRepository) ListApplications(ctx context.Context, filter domain.ApplicationFilter) ([]domain.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE 1=1`
	args := []any{}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += fmt.Sprintf(` AND current_status = $%d`, len(args))
	}
	if filter.ReviewerID != nil {
		args = append(args, *filter.ReviewerID)
		query += fmt.Sprintf(` AND id IN (SELECT application_id FROM reviewer_assignments WHERE reviewer_id = $%d)`, len(args))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []domain.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, *app)
	}
	return apps, rows.Err()
}

// UpdateDraft applies a partial field update to a draft. The row is locked
// so the draft-only and version guards are checked against current state,
// and the version token increments on success.
func (r *PostgresRepository) UpdateDraft(ctx context.Context, id uuid.UUID, update domain.DraftUpdate) (*domain.Application, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var status domain.Status
	var version int64
	err = tx.QueryRow(ctx, `SELECT current_status, version FROM applications WHERE id = $1 FOR UPDATE`, id).Scan(&status, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrApplicationNotFound
		}
		return nil, err
	}
	if status != domain.StatusDraft {
		return nil, ErrNotDraft
	}
	if version != update.Version {
		return nil, ErrVersionConflict
	}

	query := `
		UPDATE applications SET
			full_name = COALESCE($2, full_name),
			date_of_birth = COALESCE($3, date_of_birth),
			school = COALESCE($4, school),
			gpa = COALESCE($5, gpa),
			country = COALESCE($6, country),
			state = COALESCE($7, state),
			class_year = COALESCE($8, class_year),
			financial_aid_requested = COALESCE($9, financial_aid_requested),
			financial_aid_essay = COALESCE($10, financial_aid_essay),
			attestation_text = COALESCE($11, attestation_text),
			payment_method = COALESCE($12, payment_method),
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + applicationColumns
	row := tx.QueryRow(ctx, query, id,
		update.FullName, update.DateOfBirth, update.School, update.GPA,
		update.Country, update.State, update.ClassYear,
		update.FinancialAidRequested, update.FinancialAidEssay,
		update.AttestationText, update.PaymentMethod,
	)
	app, err := scanApplication(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return app, nil
}

func appendStatusHistory(ctx context.Context, tx pgx.Tx, applicationID uuid.UUID, oldStatus, newStatus domain.Status, actor string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO application_status_history (id, application_id, old_status, new_status, actor)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), applicationID, oldStatus, newStatus, actor,
	)
	return err
}

// TransitionStatus applies a guarded from→to edge. The from-status guard is
// part of the WHERE clause, so a concurrent transition on the same row
// leaves exactly one winner; losers see ErrInvalidTransition.
func (r *PostgresRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.Status, actor string) error {
	if !from.CanTransition(to) {
		return ErrInvalidTransition
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE applications SET current_status = $3, updated_at = NOW()
		WHERE id = $1 AND current_status = $2`,
		id, from, to,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.classifyGuardMiss(ctx, id)
	}

	if err := appendStatusHistory(ctx, tx, id, from, to, actor); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// classifyGuardMiss distinguishes a missing row from a failed guard.
func (r *PostgresRepository) classifyGuardMiss(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM applications WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrApplicationNotFound
	}
	return ErrInvalidTransition
}

// VerifyPayment applies the submitted→payment_received transition with the
// exactly-once guard. Returns applied=false (and no error) when the
// payment was already verified, which is the webhook redelivery no-op.
func (r *PostgresRepository) VerifyPayment(ctx context.Context, id uuid.UUID, p VerifyPaymentParams) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE applications SET
			payment_verified = TRUE,
			payment_verified_at = NOW(),
			payment_verified_by = $2,
			processor_payment_id = COALESCE($3, processor_payment_id),
			processor_status = COALESCE($4, processor_status),
			current_status = 'payment_received',
			updated_at = NOW()
		WHERE id = $1 AND payment_verified = FALSE AND current_status = 'submitted'`,
		id, p.VerifiedBy, p.ProcessorPaymentID, p.ProcessorStatus,
	)
	if err != nil {
		return false, err
	}

	if tag.RowsAffected() == 0 {
		var verified bool
		err = r.db.QueryRow(ctx, `SELECT payment_verified FROM applications WHERE id = $1`, id).Scan(&verified)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return false, ErrApplicationNotFound
			}
			return false, err
		}
		if verified {
			// Redelivered confirmation. Success without effects.
			return false, nil
		}
		return false, ErrInvalidTransition
	}

	if err := appendStatusHistory(ctx, tx, id, domain.StatusSubmitted, domain.StatusPaymentReceived, p.Actor); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// RecordDecision stores a reviewer decision without changing status. The
// decision stays invisible to the applicant until release.
func (r *PostgresRepository) RecordDecision(ctx context.Context, id uuid.UUID, decision domain.Decision) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE applications SET decision = $2, updated_at = NOW()
		WHERE id = $1 AND current_status = 'in_review'`,
		id, decision,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.classifyGuardMiss(ctx, id)
	}
	return nil
}

// ReleaseDecision applies in_review→decision_released, requiring a recorded
// decision, and stamps the release time.
func (r *PostgresRepository) ReleaseDecision(ctx context.Context, id uuid.UUID, actor string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE applications SET
			current_status = 'decision_released',
			decision_released_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND current_status = 'in_review' AND decision IS NOT NULL`,
		id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var status domain.Status
		var decision *domain.Decision
		err = r.db.QueryRow(ctx, `SELECT current_status, decision FROM applications WHERE id = $1`, id).Scan(&status, &decision)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrApplicationNotFound
			}
			return err
		}
		if status == domain.StatusInReview && decision == nil {
			return ErrDecisionMissing
		}
		return ErrInvalidTransition
	}

	if err := appendStatusHistory(ctx, tx, id, domain.StatusInReview, domain.StatusDecisionReleased, actor); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ForceSetStatus is the admin escape hatch: it bypasses the transition
// guards but still writes the audit row in the same transaction.
func (r *PostgresRepository) ForceSetStatus(ctx context.Context, id uuid.UUID, to domain.Status, actor string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var old domain.Status
	err = tx.QueryRow(ctx, `SELECT current_status FROM applications WHERE id = $1 FOR UPDATE`, id).Scan(&old)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrApplicationNotFound
		}
		return err
	}

	if _, err := tx.Exec(ctx, `UPDATE applications SET current_status = $2, updated_at = NOW() WHERE id = $1`, id, to); err != nil {
		return err
	}
	if err := appendStatusHistory(ctx, tx, id, old, to, actor); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SetProcessorPaymentIntent stores (or overwrites) the payment-intent
// reference created for an application.
func (r *PostgresRepository) SetProcessorPaymentIntent(ctx context.Context, id uuid.UUID, intentID, intentStatus string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE applications SET processor_payment_id = $2, processor_status = $3, updated_at = NOW()
		WHERE id = $1`,
		id, intentID, intentStatus,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrApplicationNotFound
	}
	return nil
}

// MarkProcessorPaymentFailed records a failed processor payment without
// touching payment_verified or current_status. A verified application is
// left untouched and reported as not applied.
func (r *PostgresRepository) MarkProcessorPaymentFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE applications SET processor_status = 'failed', processor_last_error = $2, updated_at = NOW()
		WHERE id = $1 AND payment_verified = FALSE`,
		id, nullableText(reason),
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM applications WHERE id = $1)`, id).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, ErrApplicationNotFound
		}
		return false, nil
	}
	return true, nil
}

func nullableText(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// ListReleasableApplications returns every in_review application with a
// recorded decision, oldest first so bulk release is deterministic.
func (r *PostgresRepository) ListReleasableApplications(ctx context.Context) ([]domain.Application, error) {
	query := `SELECT ` + applicationColumns + `
		FROM applications
		WHERE current_status = 'in_review' AND decision IS NOT NULL
		ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []domain.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, *app)
	}
	return apps, rows.Err()
}

// ListUnverifiedWithIntent returns submitted applications that have a
// stored payment intent but no verified payment. The reconcile job polls
// the processor for these.
func (r *PostgresRepository) ListUnverifiedWithIntent(ctx context.Context, limit int) ([]domain.Application, error) {
	query := `SELECT ` + applicationColumns + `
		FROM applications
		WHERE current_status = 'submitted'
		  AND payment_verified = FALSE
		  AND processor_payment_id IS NOT NULL
		ORDER BY updated_at ASC
		LIMIT $1`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []domain.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, *app)
	}
	return apps, rows.Err()
}

// ListStatusHistory returns the audit trail for an application in
// chronological order.
func (r *PostgresRepository) ListStatusHistory(ctx context.Context, applicationID uuid.UUID) ([]domain.StatusHistoryEntry, error) {
	query := `
		SELECT id, application_id, old_status, new_status, actor, created_at
		FROM application_status_history
		WHERE application_id = $1
		ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.StatusHistoryEntry
	for rows.Next() {
		var e domain.StatusHistoryEntry
		if err := rows.Scan(&e.ID, &e.ApplicationID, &e.OldStatus, &e.NewStatus, &e.Actor, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CreateDocument inserts a document metadata row.
func (r *PostgresRepository) CreateDocument(ctx context.Context, doc *domain.ApplicationDocument) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO application_documents (id, application_id, storage_path, file_type, file_name, size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		doc.ID, doc.ApplicationID, doc.StoragePath, doc.FileType, doc.FileName, doc.SizeBytes,
	)
	return err
}

// FindDocumentByID retrieves a single document metadata row.
func (r *PostgresRepository) FindDocumentByID(ctx context.Context, id uuid.UUID) (*domain.ApplicationDocument, error) {
	var doc domain.ApplicationDocument
	query := `
		SELECT id, application_id, storage_path, file_type, file_name, size_bytes, uploaded_at
		FROM application_documents WHERE id = $1`
	err := r.db.QueryRow(ctx, query, id).Scan(
		&doc.ID, &doc.ApplicationID, &doc.StoragePath, &doc.FileType, &doc.FileName, &doc.SizeBytes, &doc.UploadedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// ListDocumentsByApplication returns all documents for an application.
func (r *PostgresRepository) ListDocumentsByApplication(ctx context.Context, applicationID uuid.UUID) ([]domain.ApplicationDocument, error) {
	query := `
		SELECT id, application_id, storage_path, file_type, file_name, size_bytes, uploaded_at
		FROM application_documents WHERE application_id = $1
		ORDER BY uploaded_at ASC`
	rows, err := r.db.Query(ctx, query, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []domain.ApplicationDocument
	for rows.Next() {
		var doc domain.ApplicationDocument
		if err := rows.Scan(&doc.ID, &doc.ApplicationID, &doc.StoragePath, &doc.FileType, &doc.FileName, &doc.SizeBytes, &doc.UploadedAt); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document metadata row.
func (r *PostgresRepository) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM application_documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// CountDocumentsByType counts an application's documents of a given type.
func (r *PostgresRepository) CountDocumentsByType(ctx context.Context, applicationID uuid.UUID, fileType domain.DocumentType) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM application_documents
		WHERE application_id = $1 AND file_type = $2`,
		applicationID, fileType,
	).Scan(&count)
	return count, err
}

// IsReviewerAssigned reports whether the reviewer is assigned to the
// application.
func (r *PostgresRepository) IsReviewerAssigned(ctx context.Context, reviewerID, applicationID uuid.UUID) (bool, error) {
	var assigned bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM reviewer_assignments
			WHERE reviewer_id = $1 AND application_id = $2
		)`,
		reviewerID, applicationID,
	).Scan(&assigned)
	return assigned, err
}

// AssignReviewer links a reviewer to an application.
func (r *PostgresRepository) AssignReviewer(ctx context.Context, reviewerID, applicationID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO reviewer_assignments (reviewer_id, application_id)
		VALUES ($1, $2)`,
		reviewerID, applicationID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAssignmentAlreadyExists
		}
		return err
	}
	return nil
}
