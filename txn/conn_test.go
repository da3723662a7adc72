package txn

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/unkn0wn-root/entcache/deferred"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "txn.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE pages (title TEXT PRIMARY KEY, rev INTEGER NOT NULL)`)
	require.NoError(t, err)
	return db
}

func TestIdleCallbacksRunAfterOutermostCommit(t *testing.T) {
	ctx := context.Background()
	c := New(openTestDB(t))

	require.NoError(t, c.Begin(ctx))
	require.NoError(t, c.Begin(ctx))
	require.True(t, c.InTransaction())

	_, err := c.Querier().ExecContext(ctx, `INSERT INTO pages (title, rev) VALUES (?, ?)`, "Berlin", 1)
	require.NoError(t, err)

	var seenRev int
	c.OnTransactionIdle(func() {
		require.NoError(t, c.DB().QueryRowContext(ctx, `SELECT rev FROM pages WHERE title = ?`, "Berlin").Scan(&seenRev))
	})

	require.NoError(t, c.Commit()) // inner
	require.Equal(t, 0, seenRev)
	require.True(t, c.InTransaction())

	require.NoError(t, c.Commit())
	require.Equal(t, 1, seenRev, "callback sees committed data")
	require.False(t, c.InTransaction())
	require.Equal(t, uint64(1), c.TransactionTicket())
}

func TestRollbackRunsIdleCallbacks(t *testing.T) {
	ctx := context.Background()
	c := New(openTestDB(t))

	require.NoError(t, c.Begin(ctx))
	require.NoError(t, c.Begin(ctx))
	ran := false
	c.OnTransactionIdle(func() { ran = true })

	require.NoError(t, c.Rollback())
	require.True(t, ran)
	require.False(t, c.InTransaction())
	require.Equal(t, uint64(0), c.TransactionTicket())
	require.ErrorIs(t, c.Commit(), ErrNoTransaction)
}

func TestIdleCallbackRunsImmediatelyWhenIdle(t *testing.T) {
	c := New(openTestDB(t))
	ran := false
	c.OnTransactionIdle(func() { ran = true })
	require.True(t, ran)
}

func TestDeferredUnitWaitsForCommit(t *testing.T) {
	ctx := context.Background()
	c := New(openTestDB(t))
	q := deferred.New(deferred.Options{Immediate: true, Conn: c})

	require.NoError(t, c.Begin(ctx))
	var ticket uint64
	ran := false
	q.NewUpdate(func(ctx context.Context) error {
		ran = true
		ticket, _ = deferred.TicketFromContext(ctx)
		return nil
	}).WaitOnTransactionIdle(nil).CommitWithTransactionTicket().Push(ctx)

	require.False(t, ran)
	require.NoError(t, c.Commit())
	require.True(t, ran)
	require.Equal(t, uint64(0), ticket, "ticket is captured when the unit is configured")
}
