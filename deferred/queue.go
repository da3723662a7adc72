// Package deferred runs cache maintenance after the triggering work is done.
//
// Units are coalesced by fingerprint while queued, can be parked on a pending
// list until the caller releases them, and can wait until the database
// connection has no open transaction. Failures are logged and reported, never
// retried.
package deferred

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/entcache"
)

// Func is the work of one unit.
type Func func(ctx context.Context) error

// TxConn reports transaction state of a database connection.
type TxConn interface {
	InTransaction() bool
	// OnTransactionIdle runs fn once no transaction is open; immediately if
	// none is open now.
	OnTransactionIdle(fn func())
}

// Ticketer is implemented by connections that can identify the current
// commit, so work can tell which write it follows.
type Ticketer interface {
	TransactionTicket() uint64
}

// Scheduler decides when submitted units run.
type Scheduler interface {
	Submit(ctx context.Context, run func(context.Context))
}

type Options struct {
	Logger entcache.Logger // nil => NopLogger
	Hooks  entcache.Hooks  // nil => NopHooks
	// Scheduler runs pushed units; nil runs them inline.
	Scheduler Scheduler
	// Immediate runs every unit inline on Push, ignoring Scheduler.
	Immediate bool
	// Conn is used by WaitOnTransactionIdle when a unit names no connection.
	Conn TxConn
}

// Queue is instance-scoped; create one per process or per request scope.
type Queue struct {
	log       entcache.Logger
	hooks     entcache.Hooks
	sched     Scheduler
	immediate bool
	conn      TxConn

	mu      sync.Mutex
	live    map[string]*Update
	pending []*Update
}

func New(opts Options) *Queue {
	q := &Queue{
		sched:     opts.Scheduler,
		immediate: opts.Immediate,
		conn:      opts.Conn,
		live:      make(map[string]*Update),
	}
	q.log = opts.Logger
	if q.log == nil {
		q.log = entcache.NopLogger{}
	}
	q.hooks = opts.Hooks
	if q.hooks == nil {
		q.hooks = entcache.NopHooks{}
	}
	return q
}

// NewUpdate wraps fn in a unit that runs once pushed.
func (q *Queue) NewUpdate(fn Func) *Update {
	return &Update{q: q, id: uuid.New(), fn: fn}
}

// Push hands u to the queue. A unit whose fingerprint is already queued is
// dropped and the queued unit adopts u's callback. Otherwise u goes to
// exactly one of: the pending list, inline execution, or the scheduler.
func (q *Queue) Push(ctx context.Context, u *Update) {
	q.mu.Lock()
	if u.fingerprint != "" {
		if queued, ok := q.live[u.fingerprint]; ok {
			if queued != u {
				queued.fn = u.fn
			}
			q.mu.Unlock()
			q.hooks.DuplicateDropped(u.fingerprint, u.origin)
			q.log.Debug("deferred update dropped (duplicate fingerprint)", entcache.Fields{
				"fingerprint": u.fingerprint, "origin": u.origin, "id": u.id.String(),
			})
			return
		}
		q.live[u.fingerprint] = u
	}
	if u.pending {
		q.pending = append(q.pending, u)
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()
	q.dispatch(ctx, u)
}

// ReleasePendingUpdates dispatches every unit parked by MarkAsPending.
func (q *Queue) ReleasePendingUpdates(ctx context.Context) {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()
	for _, u := range pending {
		u.pending = false
		q.dispatch(ctx, u)
	}
}

// Pending returns the number of parked units.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Queued returns the number of fingerprinted units that have not started.
func (q *Queue) Queued() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.live)
}

// Reset forgets queued fingerprints and drops parked units.
func (q *Queue) Reset() {
	q.mu.Lock()
	q.live = make(map[string]*Update)
	q.pending = nil
	q.mu.Unlock()
}

func (q *Queue) dispatch(ctx context.Context, u *Update) {
	ctx = context.WithoutCancel(ctx)
	if q.immediate || q.sched == nil {
		u.run(ctx)
		return
	}
	q.sched.Submit(ctx, u.run)
}

// start releases the fingerprint slot and returns the callback to run.
func (q *Queue) start(u *Update) Func {
	q.mu.Lock()
	defer q.mu.Unlock()
	if u.fingerprint != "" && q.live[u.fingerprint] == u {
		delete(q.live, u.fingerprint)
	}
	return u.fn
}

func (q *Queue) execute(ctx context.Context, u *Update) {
	fn := q.start(u)
	if u.hasTicket {
		ctx = WithTicket(ctx, u.ticket)
	}
	if err := safeCall(ctx, fn); err != nil {
		q.hooks.DeferredFailed(u.origin, err)
		q.log.Error("deferred update failed", entcache.Fields{
			"origin": u.origin, "id": u.id.String(), "err": err,
		})
	}
}

func safeCall(ctx context.Context, fn Func) (err error) {
	if fn == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("deferred: panic: %v", r)
		}
	}()
	return fn(ctx)
}
