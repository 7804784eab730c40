package localstore

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestKV(t *testing.T) {
	ctx := context.Background()
	kv := newTestStore(t).KV()

	if _, err := kv.Get(ctx, "session"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrKeyNotFound", err)
	}

	if err := kv.Set(ctx, "session", []byte{0xa1, 0x01}); err != nil {
		t.Fatal(err)
	}
	if err := kv.Set(ctx, "session", []byte("v2")); err != nil {
		t.Fatal(err)
	}
	got, err := kv.Get(ctx, "session")
	if err != nil || !bytes.Equal(got, []byte("v2")) {
		t.Errorf("Get() = %q, %v; want v2", got, err)
	}

	if err := kv.Set(ctx, "empty", nil); err != nil {
		t.Fatal(err)
	}
	if got, err := kv.Get(ctx, "empty"); err != nil || len(got) != 0 {
		t.Errorf("Get(empty) = %q, %v", got, err)
	}

	if err := kv.Delete(ctx, "session"); err != nil {
		t.Fatal(err)
	}
	if err := kv.Delete(ctx, "session"); err != nil {
		t.Errorf("Delete(missing) error = %v", err)
	}
	if _, err := kv.Get(ctx, "session"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get() after Delete = %v", err)
	}
}

func TestKV_IndependentOfSamples(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.KV().Set(ctx, "flag", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Prune(ctx, 1<<62); err != nil {
		t.Fatal(err)
	}
	if _, err := s.KV().Get(ctx, "flag"); err != nil {
		t.Errorf("Prune should not touch kv: %v", err)
	}
}
