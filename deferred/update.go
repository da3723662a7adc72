package deferred

import (
	"context"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/entcache"
)

// Update is one unit of deferred work. Configure it, then Push it; setters
// must not be called after Push.
type Update struct {
	q  *Queue
	id uuid.UUID
	fn Func // guarded by q.mu once pushed

	fingerprint string
	origin      string
	pending     bool
	waitIdle    bool
	conn        TxConn
	ticket      uint64
	hasTicket   bool
}

func (u *Update) ID() string          { return u.id.String() }
func (u *Update) Fingerprint() string { return u.fingerprint }
func (u *Update) Origin() string      { return u.origin }

// SetFingerprint identifies the unit by the md5 of parts. Units with equal
// fingerprints are coalesced while queued.
func (u *Update) SetFingerprint(parts ...string) *Update {
	u.fingerprint = entcache.Fingerprint(parts...)
	return u
}

// SetOrigin labels the unit in logs and hooks.
func (u *Update) SetOrigin(origin string) *Update {
	u.origin = origin
	return u
}

// MarkAsPending parks the unit until Queue.ReleasePendingUpdates.
func (u *Update) MarkAsPending() *Update {
	u.pending = true
	return u
}

// WaitOnTransactionIdle delays execution until conn has no open transaction.
// A nil conn falls back to the queue connection; without one the call is a
// logged no-op.
func (u *Update) WaitOnTransactionIdle(conn TxConn) *Update {
	if conn == nil {
		conn = u.q.conn
	}
	if conn == nil {
		u.q.log.Debug("wait on transaction idle ignored (no connection)", entcache.Fields{
			"origin": u.origin, "id": u.id.String(),
		})
		return u
	}
	u.conn = conn
	u.waitIdle = true
	return u
}

// CommitWithTransactionTicket captures the connection's current ticket; the
// callback finds it with TicketFromContext.
func (u *Update) CommitWithTransactionTicket() *Update {
	conn := u.conn
	if conn == nil {
		conn = u.q.conn
	}
	if t, ok := conn.(Ticketer); ok {
		u.ticket = t.TransactionTicket()
		u.hasTicket = true
	}
	return u
}

func (u *Update) Push(ctx context.Context) { u.q.Push(ctx, u) }

func (u *Update) run(ctx context.Context) {
	if u.waitIdle && u.conn.InTransaction() {
		u.conn.OnTransactionIdle(func() { u.q.execute(ctx, u) })
		return
	}
	u.q.execute(ctx, u)
}

type ticketKey struct{}

func WithTicket(ctx context.Context, ticket uint64) context.Context {
	return context.WithValue(ctx, ticketKey{}, ticket)
}

func TicketFromContext(ctx context.Context) (uint64, bool) {
	t, ok := ctx.Value(ticketKey{}).(uint64)
	return t, ok
}
