// Package badger stores entries in an embedded Badger database, so caches
// and association records survive restarts of a single node.
package badger

import (
	"context"
	"errors"
	"time"

	bdg "github.com/dgraph-io/badger/v4"

	pr "github.com/unkn0wn-root/entcache/provider"
)

type Provider struct {
	db      *bdg.DB
	closeDB bool
}

var (
	_ pr.Provider = (*Provider)(nil)
	_ pr.Exister  = (*Provider)(nil)
)

type Config struct {
	// Dir is the data directory. Ignored when InMemory is set.
	Dir      string
	InMemory bool
	// Logger receives badger's internal logs; nil silences them.
	Logger bdg.Logger
}

// Open creates a database owned by the provider.
func Open(cfg Config) (*Provider, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, errors.New("badger: Dir is required unless InMemory")
	}
	opts := bdg.DefaultOptions(cfg.Dir).WithLogger(cfg.Logger)
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	db, err := bdg.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Provider{db: db, closeDB: true}, nil
}

// NewWithDB wraps an existing database. Close leaves it open.
func NewWithDB(db *bdg.DB) *Provider { return &Provider{db: db} }

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	var out []byte
	err := p.db.View(func(txn *bdg.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, bdg.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	err := p.db.Update(func(txn *bdg.Txn) error {
		e := bdg.NewEntry([]byte(key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	return p.db.Update(func(txn *bdg.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (p *Provider) Exists(_ context.Context, key string) (bool, error) {
	err := p.db.View(func(txn *bdg.Txn) error {
		_, err := txn.Get([]byte(key))
		return err
	})
	if errors.Is(err, bdg.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (p *Provider) Close(_ context.Context) error {
	if !p.closeDB {
		return nil
	}
	return p.db.Close()
}
