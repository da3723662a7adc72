package genstore

import (
	"context"
	"testing"
	"time"
)

func TestLocalSnapshotManyIncludesAllAndZeroForMissing(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	subjects := []string{"Foo#0##", "Bar#0##", "Baz#14##"}
	// bump Bar twice -> gen=2
	if _, err := s.Bump(ctx, "Bar#0##"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Bump(ctx, "Bar#0##"); err != nil {
		t.Fatal(err)
	}

	got, err := s.SnapshotMany(ctx, subjects)
	if err != nil {
		t.Fatal(err)
	}
	if got["Foo#0##"] != 0 || got["Bar#0##"] != 2 || got["Baz#14##"] != 0 {
		t.Fatalf("got=%v want Foo=0,Bar=2,Baz=0", got)
	}
}

func TestLocalBumpIsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	var last uint64
	for i := 0; i < 5; i++ {
		g, err := s.Bump(ctx, "Foo#0##")
		if err != nil {
			t.Fatal(err)
		}
		if g <= last {
			t.Fatalf("generation went backwards: %d after %d", g, last)
		}
		last = g
	}
	if g, _ := s.Snapshot(ctx, "Foo#0##"); g != last {
		t.Fatalf("Snapshot=%d want %d", g, last)
	}
}

func TestLocalCleanupForgetsIdleSubjects(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	if _, err := s.Bump(ctx, "Old#0##"); err != nil {
		t.Fatal(err)
	}
	clock = clock.Add(2 * time.Hour)
	if _, err := s.Bump(ctx, "Recent#0##"); err != nil {
		t.Fatal(err)
	}

	s.Cleanup(time.Hour)
	got, _ := s.SnapshotMany(ctx, []string{"Old#0##", "Recent#0##"})
	if got["Old#0##"] != 0 || got["Recent#0##"] != 1 {
		t.Fatalf("got=%v want Old=0,Recent=1", got)
	}
	if s.Len() != 1 {
		t.Fatalf("Len=%d want 1", s.Len())
	}

	s.Cleanup(0)
	if s.Len() != 1 {
		t.Fatalf("non-positive retention must keep everything, Len=%d", s.Len())
	}
}

func TestLocalSweepStopsOnClose(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore(time.Millisecond, time.Hour)
	if _, err := s.Bump(ctx, "Foo#0##"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if g, _ := s.Snapshot(ctx, "Foo#0##"); g != 1 {
		t.Fatalf("sweep pruned a fresh subject: gen=%d", g)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
