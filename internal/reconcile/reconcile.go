// Package reconcile decides whether a reservation may be requested for the
// locally known catalogue version, given what the authority currently
// considers the internal version of that catalogue.
package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/iliyamo/catalogue-reservation/internal/authority"
	"github.com/iliyamo/catalogue-reservation/internal/model"
)

// Result is the outcome of a version check.  It is one of CorrectVersion,
// OldVersion, MinorForbidden, NotApplicable or Error.
type Result interface {
	isResult()
}

// CorrectVersion means the local version is current.
type CorrectVersion struct{}

// OldVersion means the authority holds a newer internal version.  Staged
// carries the already-downloaded content so the caller can import it
// without another round trip.
type OldVersion struct {
	NewVersionID string
	Staged       model.StagedVersion
}

// MinorForbidden means a minor reservation was requested while the
// authority's internal version is an unpublished major draft.
type MinorForbidden struct{}

// NotApplicable is returned for requests without a level, such as
// releasing a reservation.
type NotApplicable struct{}

// Error means the check itself failed.
type Error struct {
	Err error
}

func (CorrectVersion) isResult() {}
func (OldVersion) isResult()     {}
func (MinorForbidden) isResult() {}
func (NotApplicable) isResult()  {}
func (Error) isResult()          {}

func (e Error) Error() string { return "version check: " + e.Err.Error() }
func (e Error) Unwrap() error { return e.Err }

// VersionSource exports the authority's internal version descriptor.
type VersionSource interface {
	ExportInternalVersion(ctx context.Context, code string) (*authority.InternalVersion, error)
}

// Reconciler compares local catalogue versions with the authority's.
type Reconciler struct {
	src VersionSource
	log *zap.SugaredLogger
}

func New(src VersionSource, log *zap.SugaredLogger) *Reconciler {
	return &Reconciler{src: src, log: log.Named("reconcile")}
}

// Check classifies ref against the authority for a reservation at level.
func (r *Reconciler) Check(ctx context.Context, ref model.CatalogueRef, level model.Level) Result {
	if level == model.LevelNone {
		return NotApplicable{}
	}

	iv, err := r.src.ExportInternalVersion(ctx, ref.Code)
	if err != nil {
		r.log.Warnw("export internal version failed", "catalogue", ref.String(), "err", err)
		return Error{Err: err}
	}
	if iv == nil {
		return CorrectVersion{}
	}

	if level == model.LevelMinor && iv.Major && iv.Draft {
		return MinorForbidden{}
	}

	remote, err := model.ParseVersion(iv.Version)
	if err != nil {
		return Error{Err: fmt.Errorf("authority version descriptor: %w", err)}
	}
	if !remote.Newer(ref.Version) {
		return CorrectVersion{}
	}
	r.log.Infow("local catalogue is stale", "catalogue", ref.String(), "remote", remote.String(), "version_id", iv.VersionID)
	return OldVersion{
		NewVersionID: iv.VersionID,
		Staged: model.StagedVersion{
			Code:      ref.Code,
			VersionID: iv.VersionID,
			Version:   remote,
			Payload:   iv.Payload,
		},
	}
}
