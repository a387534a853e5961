package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/catalogue-reservation/internal/model"
)

// PendingActionRepo provides data access to the pending_actions table.
// A row exists from the moment the authority acknowledges a submission
// until the action's outcome has been applied locally.  The unique key on
// (catalogue_code, catalogue_major, catalogue_minor, catalogue_internal)
// guarantees at most one outstanding action per catalogue version.  All
// methods are safe for concurrent use; the database serialises writers.
type PendingActionRepo struct {
	db *sql.DB
}

// NewPendingActionRepo returns a new PendingActionRepo bound to the provided database.
func NewPendingActionRepo(db *sql.DB) *PendingActionRepo { return &PendingActionRepo{db: db} }

const pendingColumns = `id, kind, remote_log_id, level, catalogue_code, catalogue_major,
	catalogue_minor, catalogue_internal, requester, priority, note, status, created_at, updated_at`

// Insert stores a new pending action and populates its ID and timestamps.
// It returns ErrActionExists when the catalogue version already has one.
func (r *PendingActionRepo) Insert(ctx context.Context, a *model.PendingAction) error {
	const q = `INSERT INTO pending_actions
		(kind, remote_log_id, level, catalogue_code, catalogue_major, catalogue_minor,
		 catalogue_internal, requester, priority, note, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q,
		string(a.Kind), nullString(a.RemoteLogID), string(a.Level), a.Catalogue.Code,
		a.Catalogue.Version.Major, a.Catalogue.Version.Minor, a.Catalogue.Version.Internal,
		a.Requester, string(a.Priority), a.Note, string(a.Status),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%s: %w", a.Catalogue, ErrActionExists)
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = id
	// Read back database defaults for the timestamps.
	return r.db.QueryRowContext(ctx,
		`SELECT created_at, updated_at FROM pending_actions WHERE id = ?`, id,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

// Update writes the mutable fields of a pending action: priority, target
// catalogue (after importing a newer version), status and remote log id.
func (r *PendingActionRepo) Update(ctx context.Context, a *model.PendingAction) error {
	const q = `UPDATE pending_actions
		SET remote_log_id = ?, catalogue_code = ?, catalogue_major = ?, catalogue_minor = ?,
		    catalogue_internal = ?, priority = ?, status = ?
		WHERE id = ?`
	res, err := r.db.ExecContext(ctx, q,
		nullString(a.RemoteLogID), a.Catalogue.Code, a.Catalogue.Version.Major,
		a.Catalogue.Version.Minor, a.Catalogue.Version.Internal,
		string(a.Priority), string(a.Status), a.ID,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%s: %w", a.Catalogue, ErrActionExists)
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// MySQL reports zero affected rows when nothing changed, so
		// confirm the row still exists before reporting it missing.
		var one int
		err := r.db.QueryRowContext(ctx, `SELECT 1 FROM pending_actions WHERE id = ?`, a.ID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// Delete removes the pending action.  This is the completion event.
func (r *PendingActionRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM pending_actions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAll returns every stored pending action ordered by id.  It is used
// for crash recovery and for listing.
func (r *PendingActionRepo) GetAll(ctx context.Context) ([]*model.PendingAction, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+pendingColumns+` FROM pending_actions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.PendingAction
	for rows.Next() {
		a, err := scanPendingAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetByCatalogue returns the pending action for a catalogue version or
// ErrNotFound.
func (r *PendingActionRepo) GetByCatalogue(ctx context.Context, ref model.CatalogueRef) (*model.PendingAction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+pendingColumns+` FROM pending_actions
		WHERE catalogue_code = ? AND catalogue_major = ? AND catalogue_minor = ? AND catalogue_internal = ?`,
		ref.Code, ref.Version.Major, ref.Version.Minor, ref.Version.Internal)
	a, err := scanPendingAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPendingAction(s rowScanner) (*model.PendingAction, error) {
	var a model.PendingAction
	var kind, level, priority, status string
	var logID sql.NullString
	err := s.Scan(&a.ID, &kind, &logID, &level, &a.Catalogue.Code,
		&a.Catalogue.Version.Major, &a.Catalogue.Version.Minor, &a.Catalogue.Version.Internal,
		&a.Requester, &priority, &a.Note, &status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Kind = model.ActionKind(kind)
	a.Level = model.Level(level)
	a.Priority = model.Priority(priority)
	a.Status = model.ActionStatus(status)
	if logID.Valid {
		id := logID.String
		a.RemoteLogID = &id
	}
	return &a, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
