// Package listener defers side effects of entity changes.
//
// Listeners are registered by label or by canonical id. Record collects the
// listeners matching an id into a batch, and CallListeners hands the whole
// batch to the deferred queue as one unit that waits for the surrounding
// transaction to finish.
package listener

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/entcache"
	"github.com/unkn0wn-root/entcache/deferred"
)

// Event is a recorded change. Payload is copied on Record.
type Event struct {
	ID      string
	Payload map[string]any
}

type Listener interface {
	OnChange(ctx context.Context, ev Event) error
}

type ListenerFunc func(ctx context.Context, ev Event) error

func (f ListenerFunc) OnChange(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Resolver translates a label into its canonical id.
type Resolver interface {
	Resolve(label string) (id string, ok bool)
}

type ResolverFunc func(label string) (string, bool)

func (f ResolverFunc) Resolve(label string) (string, bool) { return f(label) }

type Options struct {
	Logger entcache.Logger // nil => NopLogger
	// Conn is the connection whose transactions batches wait for; nil falls
	// back to the queue connection.
	Conn deferred.TxConn
}

type call struct {
	l  Listener
	ev Event
}

type Registry struct {
	queue *deferred.Queue
	conn  deferred.TxConn
	log   entcache.Logger
	token string

	mu        sync.Mutex
	byKey     map[string][]Listener
	byID      map[string][]Listener
	loaded    bool
	order     []string          // ids in first-recorded order
	batch     map[string][]call // recorded, not yet handed over
	submitted []call            // handed over, not yet run
}

func New(q *deferred.Queue, opts Options) *Registry {
	r := &Registry{
		queue: q,
		conn:  opts.Conn,
		log:   opts.Logger,
		token: uuid.NewString(),
	}
	if r.log == nil {
		r.log = entcache.NopLogger{}
	}
	r.resetLocked()
	return r
}

// AddListenerCallback registers l under key, a label or an id. Registrations
// made after LoadListeners are keyed as given.
func (r *Registry) AddListenerCallback(key string, l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[key] = append(r.byKey[key], l)
	if r.loaded {
		r.byID[key] = append(r.byID[key], l)
	}
}

// LoadListeners resolves every registered label to its id. Keys the resolver
// does not know are kept as ids.
func (r *Registry) LoadListeners(res Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = make(map[string][]Listener, len(r.byKey))
	for key, ls := range r.byKey {
		id := key
		if res != nil {
			if resolved, ok := res.Resolve(key); ok {
				id = resolved
			} else {
				r.log.Debug("listener key not resolvable; keeping as id", entcache.Fields{"key": key})
			}
		}
		r.byID[id] = append(r.byID[id], ls...)
	}
	r.loaded = true
}

// CanTrigger reports whether any listener is registered for id.
func (r *Registry) CanTrigger(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listenersLocked(id)) > 0
}

// Record batches every listener registered for id; nothing runs yet.
func (r *Registry) Record(id string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ls := r.listenersLocked(id)
	if len(ls) == 0 {
		return
	}
	if _, ok := r.batch[id]; !ok {
		r.order = append(r.order, id)
	}
	for _, l := range ls {
		r.batch[id] = append(r.batch[id], call{l: l, ev: Event{ID: id, Payload: maps.Clone(payload)}})
	}
}

// CallListeners hands the batch to the deferred queue as one unit waiting on
// transaction idle, then clears it. Batches handed over while an earlier unit
// is still queued run together in that unit.
func (r *Registry) CallListeners(ctx context.Context) {
	r.mu.Lock()
	if len(r.order) == 0 {
		r.mu.Unlock()
		return
	}
	for _, id := range r.order {
		r.submitted = append(r.submitted, r.batch[id]...)
	}
	n := len(r.submitted)
	r.order = nil
	r.batch = make(map[string][]call)
	r.mu.Unlock()

	r.log.Debug("listener batch deferred", entcache.Fields{"calls": n})
	r.queue.NewUpdate(r.drain).
		SetFingerprint("listener.CallListeners", r.token).
		SetOrigin("listener.CallListeners").
		WaitOnTransactionIdle(r.conn).
		Push(ctx)
}

// Reset drops registrations and any batch not yet run.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
}

func (r *Registry) drain(ctx context.Context) error {
	r.mu.Lock()
	calls := r.submitted
	r.submitted = nil
	r.mu.Unlock()

	var errs []error
	for _, c := range calls {
		if err := c.l.OnChange(ctx, c.ev); err != nil {
			errs = append(errs, fmt.Errorf("listener %s: %w", c.ev.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) listenersLocked(id string) []Listener {
	if r.loaded {
		return r.byID[id]
	}
	return r.byKey[id]
}

func (r *Registry) resetLocked() {
	r.byKey = make(map[string][]Listener)
	r.byID = make(map[string][]Listener)
	r.loaded = false
	r.order = nil
	r.batch = make(map[string][]call)
	r.submitted = nil
}

// InvalidateOnChange returns a listener that invalidates the subject carried
// in the event payload under "subject" (an entcache.Subject or its hash).
func InvalidateOnChange(ec *entcache.EntityCache) Listener {
	return ListenerFunc(func(ctx context.Context, ev Event) error {
		var subject entcache.Subject
		switch v := ev.Payload["subject"].(type) {
		case entcache.Subject:
			subject = v
		case string:
			s, err := entcache.ParseSubject(v)
			if err != nil {
				return err
			}
			subject = s
		default:
			return fmt.Errorf("listener: event %s carries no subject", ev.ID)
		}
		return ec.Invalidate(ctx, subject)
	})
}
