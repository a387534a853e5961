// Package action drives reserve, unreserve, publish and upload requests
// through the authority's submit-then-poll protocol.
//
// Every request runs as its own state machine:
//
//	STARTED → CHECKING_VERSION → [IMPORTING_NEWER_VERSION →] SENDING →
//	WAITING_FOR_LOG → [QUEUED_LOW_PRIORITY →] RESOLVED → COMPLETED
//
// A pending action is persisted once the authority acknowledges the
// submission and deleted once its result log has been applied, so an
// acknowledged request always reaches RESOLVED, across restarts if need be.
package action

import (
	"context"
	"errors"
	"fmt"

	"github.com/iliyamo/catalogue-reservation/internal/authority"
	"github.com/iliyamo/catalogue-reservation/internal/model"
	"github.com/iliyamo/catalogue-reservation/internal/poller"
	"github.com/iliyamo/catalogue-reservation/internal/reconcile"
)

var (
	// ErrPrecondition is returned when the version check forbids the
	// request or cannot be carried out.  Nothing was sent to the authority.
	ErrPrecondition = errors.New("action: precondition failed")
	// ErrTransport is returned when the submission never reached the
	// authority.  Nothing was persisted.
	ErrTransport = errors.New("action: authority unreachable")
	// ErrSubmitRefused is returned when the authority refused to accept
	// the submission at all.
	ErrSubmitRefused = errors.New("action: submission refused")
	// ErrActionInFlight is returned when another action already targets
	// the same catalogue version.
	ErrActionInFlight = errors.New("action: another action is in flight for this catalogue version")
	// ErrInvalidRequest is returned for requests that can never succeed,
	// such as a reservation without a level.
	ErrInvalidRequest = errors.New("action: invalid request")
)

// BusyError is returned when the authority declined to queue a submission
// because it is busy.  Action is the request to retry later.
type BusyError struct {
	Action *model.PendingAction
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("action: authority busy, retry %s on %s later", e.Action.Kind, e.Action.Catalogue)
}

// PendingStore persists acknowledged actions.
type PendingStore interface {
	Insert(ctx context.Context, a *model.PendingAction) error
	Update(ctx context.Context, a *model.PendingAction) error
	Delete(ctx context.Context, id int64) error
	GetAll(ctx context.Context) ([]*model.PendingAction, error)
	GetByCatalogue(ctx context.Context, ref model.CatalogueRef) (*model.PendingAction, error)
}

// CatalogueStore applies outcomes to local catalogue records.
type CatalogueStore interface {
	SetBusy(ctx context.Context, ref model.CatalogueRef, busy bool) error
	CreateReservedRecord(ctx context.Context, ref model.CatalogueRef, level model.Level, requester, note string) error
	RemoveReservedRecord(ctx context.Context, ref model.CatalogueRef) error
	BumpPublishedVersion(ctx context.Context, ref model.CatalogueRef, level model.Level) (model.CatalogueRef, error)
	MarkNeedsReconciliation(ctx context.Context, ref model.CatalogueRef) error
}

// Importer stores a newer version pulled down from the authority.
type Importer interface {
	ImportVersion(ctx context.Context, staged model.StagedVersion) (model.CatalogueRef, error)
}

// Gateway talks to the authority.
type Gateway interface {
	Submit(ctx context.Context, req authority.SubmitRequest) (string, model.RemoteOutcome)
	InterpretLog(l *authority.ResultLog) model.RemoteOutcome
}

// VersionChecker classifies the local version before a reservation.
type VersionChecker interface {
	Check(ctx context.Context, ref model.CatalogueRef, level model.Level) reconcile.Result
}

// LogWaiter blocks until an action's result log appears.
type LogWaiter interface {
	Wait(ctx context.Context, a *model.PendingAction, onAttempt poller.AttemptFunc) (*authority.ResultLog, error)
}

// Request describes one user request.
type Request struct {
	Kind      model.ActionKind
	Catalogue model.CatalogueRef
	Level     model.Level
	Note      string
	Requester string
	// Observer, if set, receives this request's events in addition to the
	// orchestrator-wide observer.
	Observer Observer
}

// Result is the terminal state of an action that reached RESOLVED.
type Result struct {
	Action  *model.PendingAction
	Outcome model.RemoteOutcome
	// Catalogue is the version the outcome applies to; for a publish it is
	// the newly published version.
	Catalogue model.CatalogueRef
	// Err is set when the outcome could not be applied locally.
	Err error
}

// OK reports whether the authority accepted the action and it was applied.
func (r *Result) OK() bool { return r.Outcome == model.OutcomeOK && r.Err == nil }
