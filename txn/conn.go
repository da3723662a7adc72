// Package txn tracks transaction state on a *sql.DB so deferred cache work can
// wait until writes are committed.
package txn

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/unkn0wn-root/entcache/deferred"
)

var ErrNoTransaction = errors.New("txn: no transaction in progress")

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Conn serializes transactional use of one database handle. Begin calls nest;
// only the outermost Commit commits. Rollback at any depth aborts the whole
// transaction.
type Conn struct {
	db *sql.DB

	mu     sync.Mutex
	tx     *sql.Tx
	depth  int
	idle   []func()
	ticket uint64
}

var (
	_ deferred.TxConn   = (*Conn)(nil)
	_ deferred.Ticketer = (*Conn)(nil)
)

func New(db *sql.DB) *Conn { return &Conn{db: db} }

func (c *Conn) DB() *sql.DB { return c.db }

// Querier returns the open transaction, or the database when idle.
func (c *Conn) Querier() DBTX {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx != nil {
		return c.tx
	}
	return c.db
}

func (c *Conn) Begin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.depth == 0 {
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		c.tx = tx
	}
	c.depth++
	return nil
}

func (c *Conn) Commit() error {
	c.mu.Lock()
	if c.depth == 0 {
		c.mu.Unlock()
		return ErrNoTransaction
	}
	c.depth--
	if c.depth > 0 {
		c.mu.Unlock()
		return nil
	}
	err := c.tx.Commit()
	c.tx = nil
	if err == nil {
		c.ticket++
	}
	fns := c.takeIdleLocked()
	c.mu.Unlock()

	runAll(fns)
	return err
}

func (c *Conn) Rollback() error {
	c.mu.Lock()
	if c.depth == 0 {
		c.mu.Unlock()
		return ErrNoTransaction
	}
	err := c.tx.Rollback()
	c.tx = nil
	c.depth = 0
	fns := c.takeIdleLocked()
	c.mu.Unlock()

	runAll(fns)
	return err
}

func (c *Conn) InTransaction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.depth > 0
}

// OnTransactionIdle runs fn after the outermost Commit or Rollback, or right
// away when no transaction is open.
func (c *Conn) OnTransactionIdle(fn func()) {
	c.mu.Lock()
	if c.depth > 0 {
		c.idle = append(c.idle, fn)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn()
}

// TransactionTicket is the number of transactions committed so far.
func (c *Conn) TransactionTicket() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticket
}

func (c *Conn) takeIdleLocked() []func() {
	fns := c.idle
	c.idle = nil
	return fns
}

func runAll(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
