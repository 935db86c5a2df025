package refcount

import (
	"context"
	"errors"
	"testing"

	"github.com/sharedcode/latch"
	"github.com/sharedcode/latch/inmemory"
)

func newTracker() (*Tracker, *inmemory.RecordStore) {
	store := inmemory.NewRecordStore()
	return NewTracker(store, inmemory.NewLeaseManager()), store
}

func TestAttachDetachLifecycle(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker()
	ref := latch.NewUUID()

	n, err := tr.Attach(ctx, "vol-1", ref, "")
	if err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected count 1 after first attach, got %d", n)
	}

	// Attaching the same id again does not double count.
	n, err = tr.Attach(ctx, "vol-1", ref, "")
	if err != nil {
		t.Fatalf("repeat attach failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("repeat attach should be a no-op, got count %d", n)
	}

	n, err = tr.Detach(ctx, "vol-1", ref)
	if err != nil {
		t.Fatalf("detach failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected count 0 after detach, got %d", n)
	}

	// Detaching an id that is not attached stays at zero, never negative.
	n, err = tr.Detach(ctx, "vol-1", ref)
	if err != nil {
		t.Fatalf("repeat detach failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("repeat detach should report 0, got %d", n)
	}
}

func TestAttachRequiresReferenceID(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker()
	var cfgErr *latch.ConfigurationError
	if _, err := tr.Attach(ctx, "vol-1", latch.NilUUID, ""); !errors.As(err, &cfgErr) {
		t.Fatalf("nil reference id: expected ConfigurationError, got %v", err)
	}
	if _, err := tr.Detach(ctx, "vol-1", latch.NilUUID); !errors.As(err, &cfgErr) {
		t.Fatalf("nil reference id: expected ConfigurationError, got %v", err)
	}
}

func TestAttachLabelStored(t *testing.T) {
	ctx := context.Background()
	tr, store := newTracker()
	ref := latch.NewUUID()

	if _, err := tr.Attach(ctx, "vol-1", ref, "host-a"); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	rec, err := store.Read(ctx, MetadataKey("vol-1"))
	if err != nil || rec == nil {
		t.Fatalf("metadata record missing: %v", err)
	}
	if got := rec.Fields[FieldKey(ref)]; got != "host-a" {
		t.Fatalf("expected stored label host-a, got %q", got)
	}

	// Default label is the reference id itself.
	ref2 := latch.NewUUID()
	if _, err := tr.Attach(ctx, "vol-1", ref2, ""); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	rec, _ = store.Read(ctx, MetadataKey("vol-1"))
	if got := rec.Fields[FieldKey(ref2)]; got != ref2.String() {
		t.Fatalf("expected default label %s, got %q", ref2.String(), got)
	}
}

func TestCount(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker()

	n, err := tr.Count(ctx, "vol-1")
	if err != nil || n != 0 {
		t.Fatalf("unknown target should count 0, got %d err %v", n, err)
	}

	for i := 0; i < 3; i++ {
		if _, err := tr.Attach(ctx, "vol-1", latch.NewUUID(), ""); err != nil {
			t.Fatalf("attach %d failed: %v", i, err)
		}
	}
	n, err = tr.Count(ctx, "vol-1")
	if err != nil || n != 3 {
		t.Fatalf("expected count 3, got %d err %v", n, err)
	}
}

func TestReferences(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker()

	refs, err := tr.References(ctx, "vol-1")
	if err != nil || refs != nil {
		t.Fatalf("unknown target should list nothing, got %v err %v", refs, err)
	}

	a, b := latch.NewUUID(), latch.NewUUID()
	if _, err := tr.Attach(ctx, "vol-1", a, "host-a"); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	if _, err := tr.Attach(ctx, "vol-1", b, "host-b"); err != nil {
		t.Fatalf("attach failed: %v", err)
	}

	refs, err = tr.References(ctx, "vol-1")
	if err != nil || len(refs) != 2 {
		t.Fatalf("expected 2 references, got %v err %v", refs, err)
	}
	if refs[0].Key.Compare(refs[1].Key) >= 0 {
		t.Fatalf("references should come back sorted by id")
	}
	byID := map[string]string{}
	for _, r := range refs {
		byID[r.Key.String()] = r.Value
	}
	if byID[a.String()] != "host-a" || byID[b.String()] != "host-b" {
		t.Fatalf("labels lost: %v", byID)
	}
}

func TestDeleteBlockedWhileReferenced(t *testing.T) {
	ctx := context.Background()
	tr, store := newTracker()
	ref := latch.NewUUID()

	if _, err := tr.Attach(ctx, "vol-1", ref, ""); err != nil {
		t.Fatalf("attach failed: %v", err)
	}

	removed := false
	err := tr.Delete(ctx, "vol-1", func(ctx context.Context) error {
		removed = true
		return nil
	})
	var sre *latch.StillReferencedError
	if !errors.As(err, &sre) {
		t.Fatalf("expected StillReferencedError, got %v", err)
	}
	if sre.Target != "vol-1" || sre.Count != 1 {
		t.Fatalf("error lacks detail: %+v", sre)
	}
	if removed {
		t.Fatalf("remove callback must not run while references remain")
	}

	if _, err := tr.Detach(ctx, "vol-1", ref); err != nil {
		t.Fatalf("detach failed: %v", err)
	}
	if err := tr.Delete(ctx, "vol-1", func(ctx context.Context) error {
		removed = true
		return nil
	}); err != nil {
		t.Fatalf("delete after detach failed: %v", err)
	}
	if !removed {
		t.Fatalf("remove callback should run once the count reaches 0")
	}
	if rec, _ := store.Read(ctx, MetadataKey("vol-1")); rec != nil {
		t.Fatalf("metadata record should be gone, got %+v", rec)
	}
}

func TestDeleteUnknownTarget(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker()
	removed := false
	if err := tr.Delete(ctx, "vol-9", func(ctx context.Context) error {
		removed = true
		return nil
	}); err != nil {
		t.Fatalf("delete of unknown target failed: %v", err)
	}
	if !removed {
		t.Fatalf("remove callback should still run for an unknown target")
	}
}
