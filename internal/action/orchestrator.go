package action

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/iliyamo/catalogue-reservation/internal/forcededit"
	"github.com/iliyamo/catalogue-reservation/internal/model"
	"github.com/iliyamo/catalogue-reservation/internal/repository"
)

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Pending    PendingStore
	Catalogues CatalogueStore
	Importer   Importer
	Gateway    Gateway
	Versions   VersionChecker
	Poller     LogWaiter
	Forced     forcededit.Manager
	// Observer receives the events of every action.
	Observer Observer
}

// Orchestrator starts and tracks actions.  At most one action per
// catalogue version runs at a time.
type Orchestrator struct {
	Deps
	log *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	lk       sync.Mutex
	inflight map[model.CatalogueRef]struct{}
}

func New(d Deps, log *zap.SugaredLogger) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		Deps:     d,
		log:      log.Named("orchestrator"),
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[model.CatalogueRef]struct{}),
	}
}

// Handle tracks an action started in the background.
type Handle struct {
	done     chan struct{}
	accepted chan struct{}
	once     sync.Once

	res *Result
	err error
	// snapshot of the action when it was accepted by the authority
	snap *model.PendingAction
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{}), accepted: make(chan struct{})}
}

func (h *Handle) accept(a *model.PendingAction) {
	h.once.Do(func() {
		h.snap = a
		close(h.accepted)
	})
}

func (h *Handle) finish(res *Result, err error) {
	h.res, h.err = res, err
	h.accept(nil)
	close(h.done)
}

// Done is closed once the action has stopped running.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the outcome after Done is closed.
func (h *Handle) Result() (*Result, error) {
	<-h.done
	return h.res, h.err
}

// Accepted blocks until the authority has acknowledged the submission or
// the action has stopped, and returns the acknowledged action.  Errors are
// the ones Run would return before polling starts.
func (h *Handle) Accepted(ctx context.Context) (*model.PendingAction, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.accepted:
	}
	if h.snap != nil {
		return h.snap, nil
	}
	<-h.done
	if h.err != nil {
		return nil, h.err
	}
	return h.res.Action, nil
}

// StartReserve reserves ref at level for requester.
func (o *Orchestrator) StartReserve(ref model.CatalogueRef, level model.Level, note, requester string, obs Observer) (*Handle, error) {
	return o.Start(Request{Kind: model.KindReserve, Catalogue: ref, Level: level, Note: note, Requester: requester, Observer: obs})
}

// StartUnreserve releases requester's reservation on ref.
func (o *Orchestrator) StartUnreserve(ref model.CatalogueRef, note, requester string, obs Observer) (*Handle, error) {
	return o.Start(Request{Kind: model.KindUnreserve, Catalogue: ref, Level: model.LevelNone, Note: note, Requester: requester, Observer: obs})
}

// StartPublish publishes ref as a new major or minor version.
func (o *Orchestrator) StartPublish(ref model.CatalogueRef, level model.Level, requester string, obs Observer) (*Handle, error) {
	kind, err := PublishKind(level)
	if err != nil {
		return nil, err
	}
	return o.Start(Request{Kind: kind, Catalogue: ref, Level: level, Requester: requester, Observer: obs})
}

// StartUpload pushes ref's data to the authority.
func (o *Orchestrator) StartUpload(ref model.CatalogueRef, requester string, obs Observer) (*Handle, error) {
	return o.Start(Request{Kind: model.KindUploadData, Catalogue: ref, Level: model.LevelNone, Requester: requester, Observer: obs})
}

// Start validates req, claims its catalogue version and runs the action in
// a new goroutine.  Invalid requests and versions that already have an
// action in flight are rejected before anything runs.
func (o *Orchestrator) Start(req Request) (*Handle, error) {
	r, err := o.prepare(o.ctx, req)
	if err != nil {
		return nil, err
	}
	h := newHandle()
	r.onAccepted = h.accept
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		res, err := r.execute(o.ctx)
		h.finish(res, err)
	}()
	return h, nil
}

// Run executes req on the calling goroutine and returns once the action is
// resolved.  Precondition, transport, busy and in-flight failures are
// returned as errors; a rejection by the authority is a Result.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	r, err := o.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return r.execute(ctx)
}

func (o *Orchestrator) prepare(ctx context.Context, req Request) (*run, error) {
	req = normalize(req)
	spec, err := specFor(req)
	if err != nil {
		return nil, err
	}
	if err := o.claim(req.Catalogue); err != nil {
		return nil, err
	}
	existing, err := o.Pending.GetByCatalogue(ctx, req.Catalogue)
	switch {
	case err == nil && existing != nil:
		o.release(req.Catalogue)
		return nil, fmt.Errorf("%s: %w", req.Catalogue, ErrActionInFlight)
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		o.release(req.Catalogue)
		return nil, fmt.Errorf("look up pending action: %w", err)
	}

	a := &model.PendingAction{
		Kind:      req.Kind,
		Level:     req.Level,
		Catalogue: req.Catalogue,
		Requester: req.Requester,
		Priority:  model.PriorityHigh,
		Note:      req.Note,
		Status:    model.StatusStarted,
	}
	return o.newRun(spec, a, req.Observer), nil
}

func (o *Orchestrator) newRun(spec kindSpec, a *model.PendingAction, obs Observer) *run {
	return &run{
		o:       o,
		spec:    spec,
		a:       a,
		obs:     Observers(o.Observer, obs),
		claimed: []model.CatalogueRef{a.Catalogue},
		log:     o.log.With("kind", a.Kind, "requester", a.Requester),
	}
}

func (o *Orchestrator) claim(ref model.CatalogueRef) error {
	o.lk.Lock()
	defer o.lk.Unlock()
	if _, ok := o.inflight[ref]; ok {
		return fmt.Errorf("%s: %w", ref, ErrActionInFlight)
	}
	o.inflight[ref] = struct{}{}
	actionsInFlight.Inc()
	return nil
}

func (o *Orchestrator) release(ref model.CatalogueRef) {
	o.lk.Lock()
	defer o.lk.Unlock()
	if _, ok := o.inflight[ref]; ok {
		delete(o.inflight, ref)
		actionsInFlight.Dec()
	}
}

// InFlight reports whether an action is running for ref in this process.
func (o *Orchestrator) InFlight(ref model.CatalogueRef) bool {
	o.lk.Lock()
	defer o.lk.Unlock()
	_, ok := o.inflight[ref]
	return ok
}

// Recover resumes every persisted action.  Recovered actions never
// re-submit: they reuse the stored log id and poll at LOW priority since
// the time spent down is unknown.  Reservations get their forced-edit grant
// back.  It returns the number of actions resumed.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	actions, err := o.Pending.GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load pending actions: %w", err)
	}
	n := 0
	for _, a := range actions {
		spec, ok := kinds[a.Kind]
		if !ok {
			o.log.Errorw("skipping pending action of unknown kind", "action", a.ID, "kind", a.Kind)
			continue
		}
		if a.RemoteLogID == nil {
			o.log.Warnw("dropping pending action without log id", "action", a.ID, "catalogue", a.Catalogue.String())
			if err := o.Pending.Delete(ctx, a.ID); err != nil {
				o.log.Errorw("delete pending action", "action", a.ID, "err", err)
			}
			continue
		}
		if err := o.claim(a.Catalogue); err != nil {
			o.log.Warnw("pending action already running", "action", a.ID, "catalogue", a.Catalogue.String())
			continue
		}

		r := o.newRun(spec, a, nil)
		if err := r.resume(ctx); err != nil {
			r.release()
			return n, err
		}
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			defer r.release()
			if _, err := r.follow(o.ctx); err != nil {
				r.log.Infow("recovered action suspended", "err", err)
			}
		}()
		n++
	}
	if n > 0 {
		o.log.Infow("resumed pending actions", "count", n)
	}
	return n, nil
}

// Wait blocks until every background action has stopped.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// Shutdown stops all background actions at their next suspension point
// and waits for them.  Acknowledged actions stay persisted for Recover.
func (o *Orchestrator) Shutdown() {
	o.cancel()
	o.wg.Wait()
}
