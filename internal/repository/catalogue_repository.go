package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/catalogue-reservation/internal/model"
)

// CatalogueRepo provides access to the catalogues table: the local copy of
// each catalogue version together with its reservation state.  The
// catalogue content itself is kept as an opaque payload; only the fields
// the reservation protocol needs are modelled.
type CatalogueRepo struct {
	db *sql.DB
}

// NewCatalogueRepo returns a new CatalogueRepo bound to the given database.
func NewCatalogueRepo(db *sql.DB) *CatalogueRepo { return &CatalogueRepo{db: db} }

// DB exposes the underlying handle so callers can open transactions.
func (r *CatalogueRepo) DB() *sql.DB { return r.db }

const catalogueWhere = `code = ? AND version_major = ? AND version_minor = ? AND version_internal = ?`

func refArgs(ref model.CatalogueRef) []any {
	return []any{ref.Code, ref.Version.Major, ref.Version.Minor, ref.Version.Internal}
}

// Get returns the catalogue record for ref or ErrNotFound.
func (r *CatalogueRepo) Get(ctx context.Context, ref model.CatalogueRef) (*model.Catalogue, error) {
	const q = `SELECT id, code, version_major, version_minor, version_internal, busy,
	                  needs_reconciliation, reserved_level, reserved_by, reserve_note,
	                  published, created_at, updated_at
	           FROM catalogues WHERE ` + catalogueWhere
	var c model.Catalogue
	var level, by, note sql.NullString
	err := r.db.QueryRowContext(ctx, q, refArgs(ref)...).Scan(
		&c.ID, &c.Code, &c.Version.Major, &c.Version.Minor, &c.Version.Internal, &c.Busy,
		&c.NeedsReconciliation, &level, &by, &note, &c.Published, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if level.Valid {
		l := model.Level(level.String)
		c.ReservedLevel = &l
	}
	if by.Valid {
		s := by.String
		c.ReservedBy = &s
	}
	if note.Valid {
		s := note.String
		c.ReserveNote = &s
	}
	return &c, nil
}

// SetBusy toggles the "busy reserving" flag that disables concurrent
// reserve/publish actions for a catalogue version in the clients.
func (r *CatalogueRepo) SetBusy(ctx context.Context, ref model.CatalogueRef, busy bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE catalogues SET busy = ? WHERE `+catalogueWhere,
		append([]any{busy}, refArgs(ref)...)...)
	return err
}

// CreateReservedRecord attaches a confirmed reservation to the catalogue
// version, creating the record when the version is not yet known locally.
func (r *CatalogueRepo) CreateReservedRecord(ctx context.Context, ref model.CatalogueRef, level model.Level, requester, note string) error {
	const q = `INSERT INTO catalogues
		(code, version_major, version_minor, version_internal, reserved_level, reserved_by, reserve_note)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE reserved_level = VALUES(reserved_level),
		                        reserved_by = VALUES(reserved_by),
		                        reserve_note = VALUES(reserve_note)`
	args := append(refArgs(ref), string(level), requester, note)
	_, err := r.db.ExecContext(ctx, q, args...)
	return err
}

// RemoveReservedRecord clears the reservation of a catalogue version.
func (r *CatalogueRepo) RemoveReservedRecord(ctx context.Context, ref model.CatalogueRef) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE catalogues SET reserved_level = NULL, reserved_by = NULL, reserve_note = NULL WHERE `+catalogueWhere,
		refArgs(ref)...)
	return err
}

// MarkNeedsReconciliation flags a catalogue version whose local edits were
// made under a forced grant the authority did not confirm.
func (r *CatalogueRepo) MarkNeedsReconciliation(ctx context.Context, ref model.CatalogueRef) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE catalogues SET needs_reconciliation = 1 WHERE `+catalogueWhere, refArgs(ref)...)
	return err
}

// BumpPublishedVersion records a successful publication.  Within one
// transaction it creates the new public version (copying the payload of
// the source version) and releases the reservation held on the source.
// It returns the reference of the new version.
func (r *CatalogueRepo) BumpPublishedVersion(ctx context.Context, ref model.CatalogueRef, level model.Level) (model.CatalogueRef, error) {
	next := model.CatalogueRef{Code: ref.Code, Version: ref.Version.Bump(level)}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.CatalogueRef{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var payload []byte
	err = tx.QueryRowContext(ctx, `SELECT payload FROM catalogues WHERE `+catalogueWhere+` FOR UPDATE`,
		refArgs(ref)...).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CatalogueRef{}, fmt.Errorf("publish %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return model.CatalogueRef{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO catalogues (code, version_major, version_minor, version_internal, published, payload)
		 VALUES (?, ?, ?, ?, 1, ?)
		 ON DUPLICATE KEY UPDATE published = 1, payload = VALUES(payload)`,
		append(refArgs(next), payload)...); err != nil {
		return model.CatalogueRef{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE catalogues SET reserved_level = NULL, reserved_by = NULL, reserve_note = NULL WHERE `+catalogueWhere,
		refArgs(ref)...); err != nil {
		return model.CatalogueRef{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.CatalogueRef{}, err
	}
	committed = true
	return next, nil
}

// ImportVersion stores a newer version fetched from the authority and
// returns its reference.  Importing the same version twice overwrites the
// payload, so a retried import is harmless.
func (r *CatalogueRepo) ImportVersion(ctx context.Context, staged model.StagedVersion) (model.CatalogueRef, error) {
	if len(staged.Payload) == 0 {
		return model.CatalogueRef{}, fmt.Errorf("import %s: empty payload", staged.Ref())
	}
	const q = `INSERT INTO catalogues (code, version_major, version_minor, version_internal, payload)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE payload = VALUES(payload)`
	ref := staged.Ref()
	if _, err := r.db.ExecContext(ctx, q, append(refArgs(ref), staged.Payload)...); err != nil {
		return model.CatalogueRef{}, err
	}
	return ref, nil
}
