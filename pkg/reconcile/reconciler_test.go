package reconcile

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/jobforge/jobforge/pkg/assemble"
	"github.com/jobforge/jobforge/pkg/diff"
	"github.com/jobforge/jobforge/pkg/remote"
)

// fakeClient is an in-memory remote.Client recording the calls made.
type fakeClient struct {
	mu      sync.Mutex
	created []string
	updated []string
	deleted []string

	failNames   map[string]error
	connectOnce bool
	calls       int
}

func newFakeClient() *fakeClient {
	return &fakeClient{failNames: map[string]error{}}
}

func (c *fakeClient) TargetID() string { return "fake" }

func (c *fakeClient) List(context.Context) ([]remote.Resource, error) { return nil, nil }

func (c *fakeClient) Create(_ context.Context, name string, _ []byte) error {
	return c.record(&c.created, name, "create")
}

func (c *fakeClient) Update(_ context.Context, name string, _ []byte) error {
	return c.record(&c.updated, name, "update")
}

func (c *fakeClient) Delete(_ context.Context, name string) error {
	return c.record(&c.deleted, name, "delete")
}

func (c *fakeClient) record(into *[]string, name, op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.connectOnce {
		c.connectOnce = false
		return &remote.CallError{Op: op, Name: name, Connectivity: true, Err: fmt.Errorf("connection refused")}
	}
	if err, ok := c.failNames[name]; ok {
		return err
	}
	*into = append(*into, name)
	return nil
}

// fakeStore is an in-memory cache store recording writes.
type fakeStore struct {
	mu       sync.Mutex
	recorded map[string]string
	purged   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{recorded: map[string]string{}}
}

func (s *fakeStore) Init(context.Context) error    { return nil }
func (s *fakeStore) Close() error                  { return nil }
func (s *fakeStore) Migrate(context.Context) error { return nil }

func (s *fakeStore) Lookup(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}

func (s *fakeStore) Record(_ context.Context, _, name, hash, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded[name] = hash
	return nil
}

func (s *fakeStore) Purge(_ context.Context, _, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purged = append(s.purged, name)
	return nil
}

func (s *fakeStore) AllKnown(context.Context, string) ([]string, error) { return nil, nil }

func changeSet(creates, updates []string) *diff.ChangeSet {
	set := &diff.ChangeSet{}
	for _, name := range creates {
		set.Creates = append(set.Creates, testItem(name))
	}
	for _, name := range updates {
		set.Updates = append(set.Updates, testItem(name))
	}
	return set
}

func testItem(name string) diff.Item {
	doc := []byte("<project>" + name + "</project>")
	return diff.Item{
		Spec:     assemble.ResourceSpec{Kind: assemble.ResourceJob, Name: name},
		Document: doc,
		Hash:     diff.Hash(doc),
	}
}

// TestApplyCreatesAndUpdates tests the happy path with cache write-through
func TestApplyCreatesAndUpdates(t *testing.T) {
	client := newFakeClient()
	store := newFakeStore()
	set := changeSet([]string{"new-a", "new-b"}, []string{"upd-c"})
	set.Unchanged = []diff.Item{testItem("same")}

	result, err := New(client, store, nil).Apply(context.Background(), set, Options{Workers: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Applied != 3 {
		t.Errorf("expected 3 applied, got %d", result.Applied)
	}
	if result.Skipped != 1 {
		t.Errorf("expected 1 skipped, got %d", result.Skipped)
	}
	if len(client.created) != 2 || len(client.updated) != 1 {
		t.Errorf("expected 2 creates and 1 update, got %v / %v", client.created, client.updated)
	}
	if len(store.recorded) != 3 {
		t.Errorf("expected 3 cache writes, got %d", len(store.recorded))
	}
	if result.RunID == "" {
		t.Error("expected a run ID")
	}
}

// TestApplyCollectsFailures tests that per-item failures do not stop the
// run
func TestApplyCollectsFailures(t *testing.T) {
	client := newFakeClient()
	client.failNames["broken"] = &remote.CallError{Op: "update", Name: "broken", StatusCode: 500, Err: fmt.Errorf("server error")}
	store := newFakeStore()

	set := changeSet(nil, []string{"ok-1", "broken", "ok-2"})
	result, err := New(client, store, nil).Apply(context.Background(), set, Options{Workers: 1})
	if err != nil {
		t.Fatalf("per-item failures must not abort: %v", err)
	}
	if result.Applied != 2 {
		t.Errorf("expected 2 applied, got %d", result.Applied)
	}
	if len(result.Failed) != 1 || result.Failed["broken"] == nil {
		t.Errorf("expected failure for broken, got %v", result.Failed)
	}
	if _, ok := store.recorded["broken"]; ok {
		t.Error("failed resource must not be cached")
	}
}

// TestApplyConnectivityAborts tests that an unreachable remote stops
// dispatch
func TestApplyConnectivityAborts(t *testing.T) {
	client := newFakeClient()
	client.connectOnce = true
	store := newFakeStore()

	var names []string
	for i := 0; i < 20; i++ {
		names = append(names, fmt.Sprintf("job-%02d", i))
	}
	set := changeSet(names, nil)

	result, err := New(client, store, nil).Apply(context.Background(), set, Options{Workers: 1})
	if err == nil {
		t.Fatal("expected abort error")
	}
	if !result.Aborted {
		t.Error("expected result marked aborted")
	}
	// One worker, first call fails: nothing else may be dispatched.
	if client.calls != 1 {
		t.Errorf("expected dispatch to stop after the connectivity failure, got %d calls", client.calls)
	}
}

// TestApplyDeleteObsolete tests obsolete deletion with a keep list
func TestApplyDeleteObsolete(t *testing.T) {
	client := newFakeClient()
	store := newFakeStore()

	set := &diff.ChangeSet{Obsolete: []string{"old-a", "old-b", "precious"}}

	result, err := New(client, store, nil).Apply(context.Background(), set, Options{
		DeleteObsolete: true,
		Keep:           []string{"precious"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Deleted != 2 {
		t.Errorf("expected 2 deleted, got %d", result.Deleted)
	}
	for _, name := range client.deleted {
		if name == "precious" {
			t.Error("keep-listed resource was deleted")
		}
	}
	if len(store.purged) != 2 {
		t.Errorf("expected 2 cache purges, got %v", store.purged)
	}
}

// TestApplyObsoleteUntouchedByDefault tests that obsolete resources are
// only reported without the delete option
func TestApplyObsoleteUntouchedByDefault(t *testing.T) {
	client := newFakeClient()
	set := &diff.ChangeSet{Obsolete: []string{"old-a"}}

	result, err := New(client, newFakeStore(), nil).Apply(context.Background(), set, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.deleted) != 0 {
		t.Errorf("nothing should be deleted, got %v", client.deleted)
	}
	if len(result.Obsolete) != 1 || result.Obsolete[0] != "old-a" {
		t.Errorf("obsolete resources should still be reported, got %v", result.Obsolete)
	}
}

// TestApplyEmptySet tests a no-op reconciliation
func TestApplyEmptySet(t *testing.T) {
	result, err := New(newFakeClient(), newFakeStore(), nil).Apply(context.Background(), &diff.ChangeSet{}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Applied != 0 || result.Skipped != 0 || result.Deleted != 0 {
		t.Errorf("expected no-op, got %+v", result)
	}
}

// TestApplyDefaultWorkerCount tests that zero workers falls back to the
// CPU count without deadlocking
func TestApplyDefaultWorkerCount(t *testing.T) {
	client := newFakeClient()
	set := changeSet([]string{"a", "b", "c"}, nil)

	result, err := New(client, newFakeStore(), nil).Apply(context.Background(), set, Options{Workers: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Applied != 3 {
		t.Errorf("expected 3 applied, got %d", result.Applied)
	}
}
