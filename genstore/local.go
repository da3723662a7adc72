package genstore

import (
	"context"
	"sync"
	"time"
)

type subjectGen struct {
	gen    uint64
	bumped time.Time
}

// LocalGenStore keeps generations in process memory. It is the default and
// only guards writers that share the process.
//
// Subjects not invalidated for longer than retention are forgotten by a
// background sweep and read as generation 0 again. Retention must exceed the
// longest delay between a prefetch snapshot and its deferred write.
type LocalGenStore struct {
	mu        sync.RWMutex
	subjects  map[string]subjectGen
	retention time.Duration
	now       func() time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

var _ GenStore = (*LocalGenStore)(nil)

// NewLocalGenStore starts a sweep every sweepEvery when both durations are
// positive; otherwise Cleanup only runs when called.
func NewLocalGenStore(sweepEvery, retention time.Duration) *LocalGenStore {
	s := &LocalGenStore{
		subjects:  make(map[string]subjectGen),
		retention: retention,
		now:       time.Now,
	}
	if sweepEvery > 0 && retention > 0 {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.sweep(sweepEvery)
	}
	return s
}

func (s *LocalGenStore) sweep(every time.Duration) {
	defer close(s.done)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.Cleanup(s.retention)
		case <-s.stop:
			return
		}
	}
}

func (s *LocalGenStore) Snapshot(_ context.Context, subject string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subjects[subject].gen, nil
}

// SnapshotMany reads the whole batch under one lock, so a concurrent Bump is
// seen either by every subject of the batch or by none.
func (s *LocalGenStore) SnapshotMany(_ context.Context, subjects []string) (map[string]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]uint64, len(subjects))
	for _, subject := range subjects {
		out[subject] = s.subjects[subject].gen
	}
	return out, nil
}

func (s *LocalGenStore) Bump(_ context.Context, subject string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sg := s.subjects[subject]
	sg.gen++
	sg.bumped = s.now()
	s.subjects[subject] = sg
	return sg.gen, nil
}

// Cleanup forgets subjects last bumped before now minus retention.
func (s *LocalGenStore) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := s.now().Add(-retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	for subject, sg := range s.subjects {
		if sg.bumped.Before(cutoff) {
			delete(s.subjects, subject)
		}
	}
}

// Len is the number of subjects with a non-zero generation.
func (s *LocalGenStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subjects)
}

// Close stops the sweep; later calls are no-ops.
func (s *LocalGenStore) Close(context.Context) error {
	if s.stop == nil {
		return nil
	}
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}
