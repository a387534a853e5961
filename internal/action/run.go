package action

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/iliyamo/catalogue-reservation/internal/authority"
	"github.com/iliyamo/catalogue-reservation/internal/forcededit"
	"github.com/iliyamo/catalogue-reservation/internal/model"
	"github.com/iliyamo/catalogue-reservation/internal/poller"
	"github.com/iliyamo/catalogue-reservation/internal/reconcile"
)

// run is the state of one action.  It is only ever touched by the
// goroutine driving it.
type run struct {
	o    *Orchestrator
	spec kindSpec
	a    *model.PendingAction
	obs  Observer
	log  *zap.SugaredLogger

	// versions held in the in-flight registry and versions marked busy
	claimed []model.CatalogueRef
	busy    []model.CatalogueRef

	onAccepted func(*model.PendingAction)
}

func (r *run) emit(e Event) {
	e.Action = r.a.Clone()
	r.obs.OnEvent(e)
}

func (r *run) setStatus(s model.ActionStatus) {
	r.a.Status = s
	r.log.Debugw("status", "catalogue", r.a.Catalogue.String(), "status", s)
	r.emit(Event{Type: EventStatusChanged, Status: s})
}

// fail ends a run that never reached the authority's result log.
func (r *run) fail(status model.ActionStatus, reason string, err error) (*Result, error) {
	if status != "" {
		r.setStatus(status)
	}
	actionsFailed.WithLabelValues(string(r.a.Kind), reason).Inc()
	r.log.Warnw("action failed", "catalogue", r.a.Catalogue.String(), "reason", reason, "err", err)
	r.emit(Event{Type: EventFailed, Err: err})
	return nil, err
}

func (r *run) markBusy(ctx context.Context, ref model.CatalogueRef) error {
	if err := r.o.Catalogues.SetBusy(ctx, ref, true); err != nil {
		return err
	}
	r.busy = append(r.busy, ref)
	return nil
}

// release clears the busy flags and in-flight claims.  It runs on every
// exit path, including teardown, so it cannot use the run's context.
func (r *run) release() {
	ctx := context.Background()
	for _, ref := range r.busy {
		if err := r.o.Catalogues.SetBusy(ctx, ref, false); err != nil {
			r.log.Errorw("clear busy flag", "catalogue", ref.String(), "err", err)
		}
	}
	r.busy = nil
	for _, ref := range r.claimed {
		r.o.release(ref)
	}
	r.claimed = nil
}

// execute drives a new action from STARTED to its end.
func (r *run) execute(ctx context.Context) (*Result, error) {
	defer r.release()
	actionsStarted.WithLabelValues(string(r.a.Kind)).Inc()
	r.emit(Event{Type: EventPrepared})

	r.setStatus(model.StatusStarted)
	if err := r.markBusy(ctx, r.a.Catalogue); err != nil {
		return r.fail(model.StatusError, "store", fmt.Errorf("mark %s busy: %w", r.a.Catalogue, err))
	}

	r.setStatus(model.StatusCheckingVersion)
	switch res := r.o.Versions.Check(ctx, r.a.Catalogue, r.spec.checkLevel(r.a)).(type) {
	case reconcile.MinorForbidden:
		return r.fail(model.StatusRejectedPrecheck, "minor_forbidden",
			fmt.Errorf("%w: %s has an unpublished major draft, minor reservation not allowed", ErrPrecondition, r.a.Catalogue.Code))
	case reconcile.Error:
		return r.fail(model.StatusRejectedPrecheck, "version_check", fmt.Errorf("%w: %w", ErrPrecondition, res))
	case reconcile.OldVersion:
		if err := r.importNewer(ctx, res); err != nil {
			return r.fail(model.StatusError, "import", err)
		}
	case reconcile.CorrectVersion, reconcile.NotApplicable:
	default:
		return r.fail(model.StatusRejectedPrecheck, "version_check", fmt.Errorf("%w: unexpected check result %T", ErrPrecondition, res))
	}

	if err := r.submit(ctx); err != nil {
		return nil, err
	}
	return r.follow(ctx)
}

// importNewer stores the newer version and re-targets the action at it.
func (r *run) importNewer(ctx context.Context, old reconcile.OldVersion) error {
	r.setStatus(model.StatusImportingNewerVersion)
	newRef, err := r.o.Importer.ImportVersion(ctx, old.Staged)
	if err != nil {
		return fmt.Errorf("%w: import version %s: %w", ErrPrecondition, old.NewVersionID, err)
	}
	if newRef != r.a.Catalogue {
		if err := r.o.claim(newRef); err != nil {
			return err
		}
		r.claimed = append(r.claimed, newRef)
		if existing, err := r.o.Pending.GetByCatalogue(ctx, newRef); err == nil && existing != nil {
			return fmt.Errorf("%s: %w", newRef, ErrActionInFlight)
		}
		if err := r.markBusy(ctx, newRef); err != nil {
			return fmt.Errorf("mark %s busy: %w", newRef, err)
		}
	}
	r.log.Infow("re-targeted at imported version", "from", r.a.Catalogue.String(), "to", newRef.String())
	r.a.Catalogue = newRef
	return nil
}

// submit sends the action and persists it.  An error ends the run.
func (r *run) submit(ctx context.Context) error {
	r.setStatus(model.StatusSending)
	logID, outcome := r.o.Gateway.Submit(ctx, authority.SubmitRequest{
		Kind:      r.a.Kind,
		Catalogue: r.a.Catalogue,
		Level:     r.a.Level,
		Note:      r.a.Note,
	})
	switch outcome {
	case model.OutcomeOK:
	case model.OutcomeBusy:
		_, err := r.fail("", "busy", &BusyError{Action: r.a.Clone()})
		return err
	case model.OutcomeTransportError:
		_, err := r.fail(model.StatusError, "transport", fmt.Errorf("submit %s on %s: %w", r.a.Kind, r.a.Catalogue, ErrTransport))
		return err
	default:
		_, err := r.fail(model.StatusError, "refused", fmt.Errorf("submit %s on %s: %w (%s)", r.a.Kind, r.a.Catalogue, ErrSubmitRefused, outcome))
		return err
	}

	r.a.RemoteLogID = &logID
	r.a.Priority = model.PriorityHigh
	r.a.Status = model.StatusWaitingForLog
	if err := r.o.Pending.Insert(ctx, r.a); err != nil {
		// The authority has the request already; keep polling so the outcome
		// is still applied, it just won't survive a restart.
		r.log.Errorw("persist pending action", "catalogue", r.a.Catalogue.String(), "log_id", logID, "err", err)
	}
	r.log.Infow("submitted", "catalogue", r.a.Catalogue.String(), "log_id", logID, "action", r.a.ID)
	r.emit(Event{Type: EventSubmitted, LogID: logID})
	if r.onAccepted != nil {
		r.onAccepted(r.a.Clone())
	}
	r.setStatus(model.StatusWaitingForLog)
	return nil
}

// resume prepares a recovered action for LOW priority polling.
func (r *run) resume(ctx context.Context) error {
	r.a.Priority = model.PriorityLow
	r.a.Status = model.StatusQueuedLowPriority
	if err := r.o.Pending.Update(ctx, r.a); err != nil {
		return fmt.Errorf("demote recovered action %d: %w", r.a.ID, err)
	}
	if err := r.markBusy(ctx, r.a.Catalogue); err != nil {
		r.log.Errorw("mark busy", "catalogue", r.a.Catalogue.String(), "err", err)
	}
	if r.spec.forcesEditing {
		r.grant(ctx)
	}
	r.log.Infow("resuming", "catalogue", r.a.Catalogue.String(), "log_id", r.a.LogID(), "action", r.a.ID)
	r.emit(Event{Type: EventStatusChanged, Status: r.a.Status})
	return nil
}

func (r *run) grant(ctx context.Context) {
	if err := r.o.Forced.Grant(ctx, r.a.Catalogue, r.a.Requester, r.a.Level); err != nil {
		r.log.Errorw("grant forced editing", "catalogue", r.a.Catalogue.String(), "err", err)
	}
}

func (r *run) onAttempt(a *model.PendingAction, attempt int, err error) {
	r.emit(Event{Type: EventAttemptFailed, Attempt: attempt, Err: err})
}

// follow polls an acknowledged action to its resolution.  A context error
// leaves the action persisted for Recover.
func (r *run) follow(ctx context.Context) (*Result, error) {
	if r.a.Priority == model.PriorityHigh {
		l, err := r.o.Poller.Wait(ctx, r.a, r.onAttempt)
		if err == nil {
			return r.resolve(ctx, l)
		}
		if !errors.Is(err, poller.ErrExhausted) {
			return nil, r.suspend(err)
		}
		if err := r.demote(ctx); err != nil {
			r.log.Errorw("persist demotion", "catalogue", r.a.Catalogue.String(), "err", err)
		}
	}
	l, err := r.o.Poller.Wait(ctx, r.a, r.onAttempt)
	if err != nil {
		return nil, r.suspend(err)
	}
	return r.resolve(ctx, l)
}

func (r *run) demote(ctx context.Context) error {
	r.a.Priority = model.PriorityLow
	r.a.Status = model.StatusQueuedLowPriority
	actionsDemoted.WithLabelValues(string(r.a.Kind)).Inc()
	var err error
	if r.a.ID != 0 {
		err = r.o.Pending.Update(ctx, r.a)
	}
	if r.spec.forcesEditing {
		r.grant(ctx)
	}
	r.log.Infow("authority slow, polling at low priority", "catalogue", r.a.Catalogue.String(), "log_id", r.a.LogID())
	r.emit(Event{Type: EventStatusChanged, Status: r.a.Status})
	return err
}

func (r *run) suspend(err error) error {
	r.log.Infow("polling interrupted, action left for recovery", "catalogue", r.a.Catalogue.String(), "log_id", r.a.LogID(), "err", err)
	return err
}

// resolve applies the authority's judgement and completes the action.  Once
// the log is in hand the action finishes even if ctx is cancelled.
func (r *run) resolve(ctx context.Context, l *authority.ResultLog) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	r.setStatus(model.StatusResolved)
	outcome := r.o.Gateway.InterpretLog(l)
	ref := r.a.Catalogue

	if r.spec.forcesEditing && outcome != model.OutcomeOK {
		granted, err := forcededit.IsGranted(ctx, r.o.Forced, ref, r.a.Requester)
		if err != nil {
			r.log.Errorw("look up forced editing", "catalogue", ref.String(), "err", err)
		}
		if granted {
			if err := r.o.Catalogues.MarkNeedsReconciliation(ctx, ref); err != nil {
				r.log.Errorw("mark needs reconciliation", "catalogue", ref.String(), "err", err)
			}
		}
	}
	if err := r.o.Forced.Revoke(ctx, ref, r.a.Requester); err != nil {
		r.log.Errorw("revoke forced editing", "catalogue", ref.String(), "err", err)
	}

	res := &Result{Outcome: outcome, Catalogue: ref}
	if outcome == model.OutcomeOK {
		res.Catalogue, res.Err = r.spec.apply(ctx, r.o.Catalogues, r.a)
		if res.Err != nil {
			res.Catalogue = ref
		}
	}

	final := model.StatusCompleted
	if res.Err != nil {
		final = model.StatusError
		r.log.Errorw("apply outcome", "catalogue", ref.String(), "outcome", outcome, "err", res.Err)
	}
	if r.a.ID != 0 {
		if err := r.o.Pending.Delete(ctx, r.a.ID); err != nil {
			r.log.Errorw("delete pending action", "action", r.a.ID, "err", err)
		}
	}
	r.setStatus(final)
	actionsResolved.WithLabelValues(string(r.a.Kind), string(outcome)).Inc()
	r.log.Infow("resolved", "catalogue", ref.String(), "outcome", outcome, "result", res.Catalogue.String())

	res.Action = r.a.Clone()
	r.emit(Event{Type: EventResolved, Outcome: outcome, Catalogue: res.Catalogue, Err: res.Err})
	return res, nil
}
