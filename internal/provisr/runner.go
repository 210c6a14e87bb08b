package provisr

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type WorkflowRunnerOptions struct {
	// MaxConcurrent caps how many reconciliations run at once. Zero means
	// the default of 8; a negative value removes the cap.
	MaxConcurrent int
	// ReconcileTimeout bounds each reconciliation so a hung outbound call
	// cannot stall a worker indefinitely.
	ReconcileTimeout time.Duration
	Logger           zerolog.Logger
}

// WorkflowRunner orchestrates the lifecycle of each request: it persists
// the record as pending, returns immediately, and drives the transition
// pending -> processing -> {completed, failed, blocked} on a worker
// goroutine. Terminal records are never re-processed.
type WorkflowRunner struct {
	store   *Store
	bus     *EventBus
	access  *AccessReconciler
	space   *SpaceReconciler
	sem     chan struct{}
	timeout time.Duration
	log     zerolog.Logger
	wg      sync.WaitGroup
}

func NewWorkflowRunner(store *Store, bus *EventBus, access *AccessReconciler, space *SpaceReconciler, opts WorkflowRunnerOptions) *WorkflowRunner {
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent == 0 {
		maxConcurrent = 8
	}
	var sem chan struct{}
	if maxConcurrent > 0 {
		sem = make(chan struct{}, maxConcurrent)
	}
	timeout := opts.ReconcileTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &WorkflowRunner{
		store:   store,
		bus:     bus,
		access:  access,
		space:   space,
		sem:     sem,
		timeout: timeout,
		log:     opts.Logger,
	}
}

// Submit persists the request as pending, broadcasts its creation, and
// schedules asynchronous execution. It never blocks on platform calls.
func (r *WorkflowRunner) Submit(kind Kind, payload map[string]any) (Request, error) {
	req, err := r.store.Create(Request{Kind: kind, Status: StatusPending, Payload: payload})
	if err != nil {
		return Request{}, err
	}
	r.bus.Publish(EventRequestCreated, req)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(req.ID)
	}()
	return req, nil
}

// Wait blocks until all scheduled reconciliations have finished.
func (r *WorkflowRunner) Wait() {
	r.wg.Wait()
}

func (r *WorkflowRunner) run(id int) {
	if r.sem != nil {
		r.sem <- struct{}{}
		defer func() { <-r.sem }()
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	req, ok, err := r.store.Get(id)
	if err != nil {
		r.log.Error().Err(err).Int("id", id).Msg("load request failed")
		return
	}
	if !ok || req.Status.Terminal() {
		// Disappeared or already settled; nothing to do under the
		// single-writer discipline, but checked defensively.
		return
	}

	// Observers see work start before the first platform call.
	if _, ok := r.transition(id, StatusProcessing, nil); !ok {
		return
	}

	switch req.Kind {
	case KindAccess:
		result, err := r.access.GrantAccess(ctx, AccessPayloadFromMap(req.Payload))
		if err != nil {
			r.transition(id, StatusFailed, func(rec *Request) {
				rec.Error = err.Error()
			})
			return
		}
		r.transition(id, StatusCompleted, func(rec *Request) {
			rec.Result = result.ToMap()
		})
	case KindSpaceCreation:
		result := r.space.CreateSpace(ctx, SpacePayloadFromMap(req.Payload))
		status := StatusCompleted
		switch result.Status {
		case SpaceStatusBlocked:
			status = StatusBlocked
		case SpaceStatusFailed:
			status = StatusFailed
		}
		r.transition(id, status, func(rec *Request) {
			rec.Result = result.ToMap()
			rec.Comments = result.Comments
			rec.Error = result.Error
		})
	default:
		r.transition(id, StatusFailed, func(rec *Request) {
			rec.Error = "unknown request kind: " + string(req.Kind)
		})
	}
}

// transition persists a forward status move and broadcasts the updated
// record. A record already in a terminal state is left untouched.
func (r *WorkflowRunner) transition(id int, to Status, apply func(*Request)) (Request, bool) {
	updated, err := r.store.Update(id, func(rec *Request) error {
		if rec.Status.Terminal() {
			return ErrInvalidState
		}
		if apply != nil {
			apply(rec)
		}
		rec.Status = to
		return nil
	})
	if err != nil {
		if err != ErrNotFound && err != ErrInvalidState {
			r.log.Error().Err(err).Int("id", id).Str("status", string(to)).Msg("persist transition failed")
		}
		return Request{}, false
	}
	r.bus.Publish(EventRequestUpdated, updated)
	return updated, true
}
