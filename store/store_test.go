package store_test

import (
	"testing"

	"github.com/prisma-node/prisma/internal/testutil"
	"github.com/prisma-node/prisma/store"
)

func TestGetNotFound(t *testing.T) {
	s := testutil.NewStore()
	if _, err := s.Get(store.CollEvents, "missing"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutJSONGetJSONRoundTrip(t *testing.T) {
	s := testutil.NewStore()
	type doc struct {
		Round int `json:"round"`
	}
	want := doc{Round: 7}
	if err := s.PutJSON(store.CollRounds, "e1", want); err != nil {
		t.Fatalf("PutJSON: %v", err)
	}
	var got doc
	if err := s.GetJSON(store.CollRounds, "e1", &got); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestCollectionsAreIsolated(t *testing.T) {
	s := testutil.NewStore()
	if err := s.Put(store.CollEvents, "x", []byte("event-doc")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.Get(store.CollRounds, "x"); err != store.ErrNotFound {
		t.Fatalf("expected isolation between collections, got err=%v", err)
	}
}

func TestHas(t *testing.T) {
	s := testutil.NewStore()
	ok, err := s.Has(store.CollHead, "node0")
	if err != nil || ok {
		t.Fatalf("expected absent, got ok=%v err=%v", ok, err)
	}
	if err := s.Put(store.CollHead, "node0", []byte("abc")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	ok, err = s.Has(store.CollHead, "node0")
	if err != nil || !ok {
		t.Fatalf("expected present, got ok=%v err=%v", ok, err)
	}
}

func TestIterateOrdersByKeyAndStripsPrefix(t *testing.T) {
	s := testutil.NewStore()
	for _, k := range []string{"b", "a", "c"} {
		if err := s.Put(store.CollWitness, k, []byte(k)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	var keys []string
	it := s.Iterate(store.CollWitness)
	for it.Next() {
		keys = append(keys, it.Key())
	}
	it.Release()
	if len(keys) != 3 || keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
		t.Fatalf("unexpected order: %v", keys)
	}
}

func TestBatchCommitIsAtomic(t *testing.T) {
	s := testutil.NewStore()
	b := s.NewBatch()
	b.Set(store.CollEvents, "e1", []byte("1"))
	b.Set(store.CollEvents, "e2", []byte("2"))
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := s.Get(store.CollEvents, "e1"); err != nil {
		t.Fatalf("e1 missing after commit: %v", err)
	}
	if _, err := s.Get(store.CollEvents, "e2"); err != nil {
		t.Fatalf("e2 missing after commit: %v", err)
	}
}

func TestDelete(t *testing.T) {
	s := testutil.NewStore()
	if err := s.Put(store.CollFamous, "w1", []byte("true")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Delete(store.CollFamous, "w1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(store.CollFamous, "w1"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
