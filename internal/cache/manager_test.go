package cache

import (
	"context"
	"testing"
	"time"

	"github.com/allaspectsdev/mlxd/internal/model"
)

// ---------------------------------------------------------------------------
// fakeKVCache
// ---------------------------------------------------------------------------

type fakeKVCache struct {
	offset int
	tag    string // lets a test tell clones apart from the original
}

func (f *fakeKVCache) Offset() int  { return f.offset }
func (f *fakeKVCache) TrimTo(n int) { f.offset = n }
func (f *fakeKVCache) Reset()       { f.offset = 0 }
func (f *fakeKVCache) Clone() model.KVCache {
	clone := *f
	clone.tag += "-clone"
	return &clone
}

// ---------------------------------------------------------------------------
// Fingerprint tests
// ---------------------------------------------------------------------------

func TestFingerprint_SameInputsSameKey(t *testing.T) {
	msgs := []model.Message{{Role: model.RoleUser, Content: "hello"}}
	a := Fingerprint("gpt-x", "", msgs, nil, nil)
	b := Fingerprint("gpt-x", "", msgs, nil, nil)
	if a != b {
		t.Errorf("expected identical fingerprints, got %q and %q", a, b)
	}
}

func TestFingerprint_DifferentMessagesDifferentKey(t *testing.T) {
	a := Fingerprint("gpt-x", "", []model.Message{{Role: model.RoleUser, Content: "hello"}}, nil, nil)
	b := Fingerprint("gpt-x", "", []model.Message{{Role: model.RoleUser, Content: "goodbye"}}, nil, nil)
	if a == b {
		t.Errorf("expected different fingerprints for different messages")
	}
}

func TestFingerprint_IgnoresSamplingParameters(t *testing.T) {
	// Fingerprint's signature has no sampling-parameter inputs at all,
	// so two requests differing only in temperature/seed necessarily
	// fingerprint identically; this test documents that guarantee.
	msgs := []model.Message{{Role: model.RoleUser, Content: "hi"}}
	a := Fingerprint("m", "sys", msgs, nil, nil)
	b := Fingerprint("m", "sys", msgs, nil, nil)
	if a != b {
		t.Errorf("expected stable fingerprint across calls")
	}
}

// ---------------------------------------------------------------------------
// Manager tests
// ---------------------------------------------------------------------------

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{MaxTokens: 10000, TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func TestManager_StoreThenLookupHits(t *testing.T) {
	m := newTestManager(t)
	kv := &fakeKVCache{offset: 5, tag: "orig"}
	m.Store("fp1", kv, 5)

	snap, ok := m.Lookup("fp1")
	if !ok {
		t.Fatalf("expected cache hit")
	}
	defer snap.Release()

	if snap.Tokens != 5 {
		t.Errorf("got tokens %d, want 5", snap.Tokens)
	}
	if snap.Cache.(*fakeKVCache).tag != "orig-clone" {
		t.Errorf("expected stored snapshot to hold a clone, got tag %q", snap.Cache.(*fakeKVCache).tag)
	}
}

func TestManager_LookupMissForUnknownFingerprint(t *testing.T) {
	m := newTestManager(t)
	if _, ok := m.Lookup("never-stored"); ok {
		t.Errorf("expected miss for unstored fingerprint")
	}
}

func TestManager_ExpiredEntryIsTreatedAsMiss(t *testing.T) {
	m, err := NewManager(Config{MaxTokens: 10000, TTL: time.Nanosecond})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	m.Store("fp-expiring", &fakeKVCache{tag: "orig"}, 1)
	time.Sleep(time.Millisecond)

	if _, ok := m.Lookup("fp-expiring"); ok {
		t.Errorf("expected expired entry to be a miss")
	}
}

func TestSnapshot_RetainReleaseRefcount(t *testing.T) {
	snap := &Snapshot{refcount: 1}
	snap.Retain()
	if !snap.inUse() {
		t.Fatalf("expected snapshot in use after retain")
	}
	snap.Release()
	snap.Release()
	if snap.inUse() {
		t.Errorf("expected refcount to reach zero")
	}
}

func TestManager_AcquireSlotSerializesAccess(t *testing.T) {
	m, err := NewManager(Config{MaxTokens: 1000, GenerationSlots: 1})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	ctx := context.Background()
	release1, err := m.AcquireSlot(ctx)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		release2, err := m.AcquireSlot(ctx)
		if err != nil {
			return
		}
		close(acquired)
		release2()
	}()

	select {
	case <-acquired:
		t.Fatalf("second acquire should have blocked while slot held")
	case <-time.After(50 * time.Millisecond):
	}

	release1()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("second acquire never completed after release")
	}
}

func TestManager_ClaimOrWaitDedupsConcurrentPrefill(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	snap1, release1, err := m.ClaimOrWait(ctx, "fp-race")
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if snap1 != nil {
		t.Fatalf("expected first caller to claim the fingerprint, not hit")
	}
	if release1 == nil {
		t.Fatalf("expected a release func for the claiming caller")
	}

	// A second caller racing in before the first stores anything must
	// block rather than also claiming the fingerprint.
	resultCh := make(chan *Snapshot, 1)
	go func() {
		snap2, release2, err := m.ClaimOrWait(ctx, "fp-race")
		if err != nil {
			t.Errorf("second claim: %v", err)
			resultCh <- nil
			return
		}
		if release2 != nil {
			t.Errorf("second caller should have observed a hit, not claimed again")
		}
		resultCh <- snap2
	}()

	select {
	case <-resultCh:
		t.Fatalf("second caller should have blocked until the first released")
	case <-time.After(50 * time.Millisecond):
	}

	// First caller finishes its prefill and stores the snapshot, then
	// releases its claim.
	m.Store("fp-race", &fakeKVCache{offset: 3, tag: "orig"}, 3)
	release1()

	select {
	case snap2 := <-resultCh:
		if snap2 == nil {
			t.Fatalf("expected second caller to observe a cache hit after release")
		}
		defer snap2.Release()
		if snap2.Tokens != 3 {
			t.Errorf("got tokens %d, want 3", snap2.Tokens)
		}
	case <-time.After(time.Second):
		t.Fatalf("second claim never unblocked after first released")
	}
}
