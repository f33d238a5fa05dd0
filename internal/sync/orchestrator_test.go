// Package sync tests for the reconciliation orchestrator.
package sync

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/tasknexus/backend/internal/db"
	"github.com/tasknexus/backend/internal/models"
	"github.com/tasknexus/backend/internal/remote"
	"github.com/tasknexus/backend/internal/sync/conflict"
)

// fakeRemote is an in-memory remote task service.
type fakeRemote struct {
	mu       sync.Mutex
	clock    int64
	seq      int
	lists    []*models.RemoteTodoList
	calls    map[string]int
	failWith map[string]error // method name -> injected error
	failOnce map[string]error // like failWith, consumed on first call
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		clock:    1000,
		calls:    make(map[string]int),
		failWith: make(map[string]error),
		failOnce: make(map[string]error),
	}
}

func (f *fakeRemote) record(method string) error {
	f.calls[method]++
	if err, ok := f.failOnce[method]; ok {
		delete(f.failOnce, method)
		return err
	}
	return f.failWith[method]
}

func (f *fakeRemote) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeRemote) findList(id string) *models.RemoteTodoList {
	for _, l := range f.lists {
		if l.ID == id {
			return l
		}
	}
	return nil
}

func (f *fakeRemote) SourceID() string { return "test-source" }

func (f *fakeRemote) ListLists(ctx context.Context) ([]*models.RemoteTodoList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListLists"); err != nil {
		return nil, err
	}
	out := make([]*models.RemoteTodoList, len(f.lists))
	copy(out, f.lists)
	return out, nil
}

func (f *fakeRemote) ListListsUpdatedSince(ctx context.Context, since int64) ([]*models.RemoteTodoList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListListsUpdatedSince"); err != nil {
		return nil, err
	}
	var out []*models.RemoteTodoList
	for _, l := range f.lists {
		if l.UpdatedAt > since {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeRemote) CreateList(ctx context.Context, req *remote.CreateListRequest) (*models.RemoteTodoList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateList"); err != nil {
		return nil, err
	}
	list := &models.RemoteTodoList{
		ID:        f.nextID("rl"),
		SourceID:  req.SourceID,
		Name:      req.Name,
		CreatedAt: f.clock,
		UpdatedAt: f.clock,
	}
	for _, item := range req.Items {
		list.Items = append(list.Items, &models.RemoteTodoItem{
			ID:          f.nextID("ri"),
			ListID:      list.ID,
			SourceID:    req.SourceID,
			Description: item.Description,
			Completed:   item.Completed,
			CreatedAt:   f.clock,
			UpdatedAt:   f.clock,
		})
	}
	f.lists = append(f.lists, list)
	return list, nil
}

func (f *fakeRemote) UpdateList(ctx context.Context, listID string, req *remote.UpdateListRequest) (*models.RemoteTodoList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateList"); err != nil {
		return nil, err
	}
	list := f.findList(listID)
	if list == nil {
		return nil, &remote.APIError{StatusCode: 404, Message: "list not found"}
	}
	list.Name = req.Name
	list.UpdatedAt = f.clock
	return list, nil
}

func (f *fakeRemote) DeleteList(ctx context.Context, listID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteList"); err != nil {
		return err
	}
	for i, l := range f.lists {
		if l.ID == listID {
			f.lists = append(f.lists[:i], f.lists[i+1:]...)
			return nil
		}
	}
	return &remote.APIError{StatusCode: 404, Message: "list not found"}
}

func (f *fakeRemote) CreateItem(ctx context.Context, listID string, req *remote.ItemRequest) (*models.RemoteTodoItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateItem"); err != nil {
		return nil, err
	}
	list := f.findList(listID)
	if list == nil {
		return nil, &remote.APIError{StatusCode: 404, Message: "list not found"}
	}
	item := &models.RemoteTodoItem{
		ID:          f.nextID("ri"),
		ListID:      listID,
		Description: req.Description,
		Completed:   req.Completed,
		CreatedAt:   f.clock,
		UpdatedAt:   f.clock,
	}
	list.Items = append(list.Items, item)
	return item, nil
}

func (f *fakeRemote) UpdateItem(ctx context.Context, listID, itemID string, req *remote.ItemRequest) (*models.RemoteTodoItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateItem"); err != nil {
		return nil, err
	}
	list := f.findList(listID)
	if list == nil {
		return nil, &remote.APIError{StatusCode: 404, Message: "list not found"}
	}
	for _, item := range list.Items {
		if item.ID == itemID {
			item.Description = req.Description
			item.Completed = req.Completed
			item.UpdatedAt = f.clock
			return item, nil
		}
	}
	return nil, &remote.APIError{StatusCode: 404, Message: "item not found"}
}

func (f *fakeRemote) DeleteItem(ctx context.Context, listID, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteItem"); err != nil {
		return err
	}
	list := f.findList(listID)
	if list == nil {
		return &remote.APIError{StatusCode: 404, Message: "list not found"}
	}
	for i, item := range list.Items {
		if item.ID == itemID {
			list.Items = append(list.Items[:i], list.Items[i+1:]...)
			return nil
		}
	}
	return &remote.APIError{StatusCode: 404, Message: "item not found"}
}

func newTestRepo(t *testing.T) *db.Repository {
	t.Helper()

	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	m := db.NewMigrator(database.DB)
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := m.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	return db.NewRepository(database.DB)
}

func newTestOrchestrator(t *testing.T, repo *db.Repository, fake *fakeRemote, strategy conflict.Strategy) *Orchestrator {
	t.Helper()
	o := NewOrchestrator(repo, fake, &Options{
		DefaultStrategy:   strategy,
		DisableResilience: true,
	})
	o.SetClock(func() int64 { return 2000 })
	return o
}

// TestCyclePushesNewList verifies a never-synchronized list and its
// items are created remotely and stamped with their remote identities.
func TestCyclePushesNewList(t *testing.T) {
	repo := newTestRepo(t)
	fake := newFakeRemote()
	o := newTestOrchestrator(t, repo, fake, conflict.StrategyRemoteWins)

	list := &models.TodoList{Name: "groceries", PendingSync: true}
	if err := repo.CreateList(list); err != nil {
		t.Fatal(err)
	}
	item := &models.TodoItem{ListID: list.ID, Description: "milk", PendingSync: true}
	if err := repo.CreateItem(item); err != nil {
		t.Fatal(err)
	}

	result, err := o.RunFullCycle(context.Background())
	if err != nil {
		t.Fatalf("RunFullCycle() error = %v", err)
	}
	if result.Pushed != 1 {
		t.Errorf("Pushed = %d, want 1", result.Pushed)
	}

	got, _ := repo.GetList(string(list.ID))
	if got.ExternalID == "" {
		t.Fatal("list should have a remote identity after push")
	}
	if got.PendingSync {
		t.Error("list should not be pending after push")
	}

	items, _ := repo.ListItems(string(list.ID), false)
	if len(items) != 1 || items[0].ExternalID == "" {
		t.Errorf("item should carry its remote identity: %+v", items)
	}
	if items[0].PendingSync {
		t.Error("item should not be pending after push")
	}

	if len(fake.lists) != 1 || len(fake.lists[0].Items) != 1 {
		t.Errorf("remote state = %+v, want one list with one item", fake.lists)
	}
}

// TestCyclePullsNewRemoteList verifies a remote list with no local
// counterpart is materialized locally, already synchronized.
func TestCyclePullsNewRemoteList(t *testing.T) {
	repo := newTestRepo(t)
	fake := newFakeRemote()
	fake.lists = []*models.RemoteTodoList{{
		ID: "rl-1", Name: "work", UpdatedAt: 900,
		Items: []*models.RemoteTodoItem{
			{ID: "ri-1", ListID: "rl-1", Description: "report", UpdatedAt: 900},
		},
	}}
	o := newTestOrchestrator(t, repo, fake, conflict.StrategyRemoteWins)

	result, err := o.RunFullCycle(context.Background())
	if err != nil {
		t.Fatalf("RunFullCycle() error = %v", err)
	}
	if result.Created != 1 {
		t.Errorf("Created = %d, want 1", result.Created)
	}

	got, err := repo.GetListByExternalID("rl-1")
	if err != nil {
		t.Fatalf("list not materialized: %v", err)
	}
	if got.PendingSync {
		t.Error("pulled list must not be pending")
	}
	if got.LastSyncedAt == 0 {
		t.Error("pulled list must be stamped synced")
	}

	items, _ := repo.ListItems(string(got.ID), false)
	if len(items) != 1 || items[0].ExternalID != "ri-1" {
		t.Errorf("items = %+v, want the remote item", items)
	}
}

// TestCycleIdempotent verifies a second cycle over agreed state makes
// no writes and no remote mutations.
func TestCycleIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	fake := newFakeRemote()
	o := newTestOrchestrator(t, repo, fake, conflict.StrategyRemoteWins)

	list := &models.TodoList{Name: "groceries", PendingSync: true}
	repo.CreateList(list)
	repo.CreateItem(&models.TodoItem{ListID: list.ID, Description: "milk", PendingSync: true})

	if _, err := o.RunFullCycle(context.Background()); err != nil {
		t.Fatalf("first cycle error = %v", err)
	}

	mutationsBefore := fake.calls["CreateList"] + fake.calls["UpdateList"] +
		fake.calls["DeleteList"] + fake.calls["CreateItem"] +
		fake.calls["UpdateItem"] + fake.calls["DeleteItem"]

	result, err := o.RunFullCycle(context.Background())
	if err != nil {
		t.Fatalf("second cycle error = %v", err)
	}

	mutationsAfter := fake.calls["CreateList"] + fake.calls["UpdateList"] +
		fake.calls["DeleteList"] + fake.calls["CreateItem"] +
		fake.calls["UpdateItem"] + fake.calls["DeleteItem"]

	if mutationsAfter != mutationsBefore {
		t.Errorf("second cycle made %d remote mutations, want 0", mutationsAfter-mutationsBefore)
	}
	if result.Pushed != 0 || result.Created != 0 || result.Updated != 0 || result.Deleted != 0 {
		t.Errorf("second cycle result = %+v, want no changes", result)
	}
}

// TestCyclePushesRename verifies a pending local edit on a synchronized
// list reaches the remote side.
func TestCyclePushesRename(t *testing.T) {
	repo := newTestRepo(t)
	fake := newFakeRemote()
	fake.lists = []*models.RemoteTodoList{{ID: "rl-1", Name: "old name", UpdatedAt: 500}}
	o := newTestOrchestrator(t, repo, fake, conflict.StrategyRemoteWins)

	list := &models.TodoList{
		Name: "new name", ExternalID: "rl-1",
		LastModified: 1500, LastSyncedAt: 1000, PendingSync: true,
	}
	repo.CreateList(list)

	result, err := o.RunFullCycle(context.Background())
	if err != nil {
		t.Fatalf("RunFullCycle() error = %v", err)
	}
	if result.Pushed != 1 {
		t.Errorf("Pushed = %d, want 1", result.Pushed)
	}
	if fake.lists[0].Name != "new name" {
		t.Errorf("remote name = %q, want new name", fake.lists[0].Name)
	}

	got, _ := repo.GetList(string(list.ID))
	if got.PendingSync {
		t.Error("list should not be pending after push")
	}
}

// TestCyclePushesDeletion verifies a local tombstone propagates and a
// remote 404 counts as already deleted.
func TestCyclePushesDeletion(t *testing.T) {
	repo := newTestRepo(t)
	fake := newFakeRemote()
	fake.lists = []*models.RemoteTodoList{{ID: "rl-1", Name: "doomed", UpdatedAt: 500}}
	o := newTestOrchestrator(t, repo, fake, conflict.StrategyRemoteWins)

	list := &models.TodoList{
		Name: "doomed", ExternalID: "rl-1",
		LastModified: 1500, LastSyncedAt: 1000,
		IsDeleted: true, DeletedAt: 1500, PendingSync: true,
	}
	repo.CreateList(list)

	result, err := o.RunFullCycle(context.Background())
	if err != nil {
		t.Fatalf("RunFullCycle() error = %v", err)
	}
	if result.Pushed != 1 {
		t.Errorf("Pushed = %d, want 1", result.Pushed)
	}
	if len(fake.lists) != 0 {
		t.Errorf("remote lists = %d, want 0 after deletion", len(fake.lists))
	}

	got, _ := repo.GetList(string(list.ID))
	if got.PendingSync {
		t.Error("tombstone should be settled after push")
	}

	// Second push of the same tombstone against a missing remote list
	// must tolerate the 404.
	got.PendingSync = true
	repo.UpdateList(got)
	if _, err := o.RunFullCycle(context.Background()); err != nil {
		t.Fatalf("re-push of tombstone error = %v", err)
	}
}

// TestPullConflictRemoteWins verifies divergent sides resolve to the
// remote copy under remote-wins.
func TestPullConflictRemoteWins(t *testing.T) {
	repo := newTestRepo(t)
	fake := newFakeRemote()
	fake.lists = []*models.RemoteTodoList{{ID: "rl-1", Name: "remote name", UpdatedAt: 1600}}
	o := newTestOrchestrator(t, repo, fake, conflict.StrategyRemoteWins)

	list := &models.TodoList{
		Name: "local name", ExternalID: "rl-1",
		LastModified: 1500, LastSyncedAt: 1000, PendingSync: true,
	}
	repo.CreateList(list)

	result, err := o.RunFullCycle(context.Background())
	if err != nil {
		t.Fatalf("RunFullCycle() error = %v", err)
	}
	if result.ConflictsResolved != 1 {
		t.Errorf("ConflictsResolved = %d, want 1", result.ConflictsResolved)
	}

	got, _ := repo.GetList(string(list.ID))
	if got.Name != "remote name" {
		t.Errorf("name = %q, want the remote copy", got.Name)
	}
	if got.PendingSync {
		t.Error("remote-wins must clear the pending flag")
	}
}

// TestPullConflictLocalWins verifies the local copy survives and is
// pushed back in the same cycle.
func TestPullConflictLocalWins(t *testing.T) {
	repo := newTestRepo(t)
	fake := newFakeRemote()
	fake.lists = []*models.RemoteTodoList{{ID: "rl-1", Name: "remote name", UpdatedAt: 1600}}
	o := newTestOrchestrator(t, repo, fake, conflict.StrategyLocalWins)

	list := &models.TodoList{
		Name: "local name", ExternalID: "rl-1",
		LastModified: 1500, LastSyncedAt: 1000, PendingSync: true,
	}
	repo.CreateList(list)

	result, err := o.RunFullCycle(context.Background())
	if err != nil {
		t.Fatalf("RunFullCycle() error = %v", err)
	}
	if result.ConflictsResolved != 1 {
		t.Errorf("ConflictsResolved = %d, want 1", result.ConflictsResolved)
	}

	got, _ := repo.GetList(string(list.ID))
	if got.Name != "local name" {
		t.Errorf("name = %q, want the local copy", got.Name)
	}
	// The pull ran before the push, so the surviving local copy was
	// pushed outward within the same cycle.
	if fake.lists[0].Name != "local name" {
		t.Errorf("remote name = %q, want the local copy pushed back", fake.lists[0].Name)
	}
}

// TestManualConflictIsolated verifies a manual-resolution item is
// reported as a failure without aborting its siblings or the cycle.
func TestManualConflictIsolated(t *testing.T) {
	repo := newTestRepo(t)
	fake := newFakeRemote()
	fake.lists = []*models.RemoteTodoList{{
		ID: "rl-1", Name: "work", UpdatedAt: 1600,
		Items: []*models.RemoteTodoItem{
			{ID: "ri-1", ListID: "rl-1", Description: "remote edit", UpdatedAt: 1600},
			{ID: "ri-2", ListID: "rl-1", Description: "new sibling", UpdatedAt: 1600},
		},
	}}
	o := newTestOrchestrator(t, repo, fake, conflict.StrategyManual)

	list := &models.TodoList{
		Name: "work", ExternalID: "rl-1",
		LastModified: 1000, LastSyncedAt: 1000,
	}
	repo.CreateList(list)
	item := &models.TodoItem{
		ListID: list.ID, Description: "local edit", ExternalID: "ri-1",
		LastModified: 1500, LastSyncedAt: 1000, PendingSync: true,
	}
	repo.CreateItem(item)

	result, err := o.RunFullCycle(context.Background())
	if err != nil {
		t.Fatalf("RunFullCycle() error = %v", err)
	}
	if result.Failures == 0 {
		t.Error("the conflicted item should be reported as a failure")
	}

	// The sibling still came through.
	items, _ := repo.ListItems(string(list.ID), false)
	found := false
	for _, i := range items {
		if i.ExternalID == "ri-2" {
			found = true
		}
	}
	if !found {
		t.Error("sibling item should have been pulled despite the conflict")
	}

	// The conflicted item is untouched.
	got, _ := repo.GetItem(string(item.ID))
	if got.Description != "local edit" {
		t.Errorf("conflicted item description = %q, want untouched local edit", got.Description)
	}
}

// TestTombstoneFromRemote verifies a synchronized list absent from the
// remote fetch is tombstoned locally without going pending.
func TestTombstoneFromRemote(t *testing.T) {
	repo := newTestRepo(t)
	fake := newFakeRemote()
	o := newTestOrchestrator(t, repo, fake, conflict.StrategyRemoteWins)

	list := &models.TodoList{
		Name: "gone", ExternalID: "rl-1",
		LastModified: 1000, LastSyncedAt: 1000,
	}
	repo.CreateList(list)
	repo.CreateItem(&models.TodoItem{
		ListID: list.ID, Description: "x", ExternalID: "ri-1",
		LastModified: 1000, LastSyncedAt: 1000,
	})

	result, err := o.RunFullCycle(context.Background())
	if err != nil {
		t.Fatalf("RunFullCycle() error = %v", err)
	}
	if result.Deleted != 1 {
		t.Errorf("Deleted = %d, want 1", result.Deleted)
	}

	got, _ := repo.GetList(string(list.ID))
	if !got.IsDeleted {
		t.Fatal("list should be tombstoned")
	}
	if got.PendingSync {
		t.Error("remote-initiated tombstone must not be pending")
	}

	items, _ := repo.ListItems(string(list.ID), true)
	for _, item := range items {
		if !item.IsDeleted || item.PendingSync {
			t.Errorf("item %+v should be tombstoned and settled", item)
		}
	}

	if fake.calls["DeleteList"] != 0 {
		t.Error("a remote-initiated tombstone must not be pushed back")
	}
}

// TestOrphanedItemTombstoned verifies item-level deletions detected by
// absence within a still-present list.
func TestOrphanedItemTombstoned(t *testing.T) {
	repo := newTestRepo(t)
	fake := newFakeRemote()
	fake.lists = []*models.RemoteTodoList{{
		ID: "rl-1", Name: "work", UpdatedAt: 1600,
		Items: []*models.RemoteTodoItem{
			{ID: "ri-1", ListID: "rl-1", Description: "kept", UpdatedAt: 1000},
		},
	}}
	o := newTestOrchestrator(t, repo, fake, conflict.StrategyRemoteWins)

	list := &models.TodoList{
		Name: "work", ExternalID: "rl-1",
		LastModified: 1000, LastSyncedAt: 1000,
	}
	repo.CreateList(list)
	repo.CreateItem(&models.TodoItem{
		ListID: list.ID, Description: "kept", ExternalID: "ri-1",
		LastModified: 1000, LastSyncedAt: 1000,
	})
	orphan := &models.TodoItem{
		ListID: list.ID, Description: "deleted remotely", ExternalID: "ri-2",
		LastModified: 1000, LastSyncedAt: 1000,
	}
	repo.CreateItem(orphan)

	result, err := o.RunFullCycle(context.Background())
	if err != nil {
		t.Fatalf("RunFullCycle() error = %v", err)
	}
	if result.Deleted != 1 {
		t.Errorf("Deleted = %d, want 1", result.Deleted)
	}

	got, _ := repo.GetItem(string(orphan.ID))
	if !got.IsDeleted || got.PendingSync {
		t.Errorf("orphan = %+v, want tombstoned and settled", got)
	}
}

// TestPendingLocalTombstoneNotRestored verifies a pending local
// deletion outranks the stale remote copy and propagates.
func TestPendingLocalTombstoneNotRestored(t *testing.T) {
	repo := newTestRepo(t)
	fake := newFakeRemote()
	// Remote copy untouched since before the local deletion at 1500 but
	// newer than the watermark, so the pull actually examines it.
	fake.lists = []*models.RemoteTodoList{{ID: "rl-1", Name: "doomed", UpdatedAt: 1200}}
	o := newTestOrchestrator(t, repo, fake, conflict.StrategyRemoteWins)

	list := &models.TodoList{
		Name: "doomed", ExternalID: "rl-1",
		LastModified: 1500, LastSyncedAt: 1000,
		IsDeleted: true, DeletedAt: 1500, PendingSync: true,
	}
	repo.CreateList(list)

	if _, err := o.RunFullCycle(context.Background()); err != nil {
		t.Fatalf("RunFullCycle() error = %v", err)
	}

	got, _ := repo.GetList(string(list.ID))
	if !got.IsDeleted {
		t.Fatal("pending local tombstone must not be restored by the pull")
	}
	if len(fake.lists) != 0 {
		t.Error("local deletion should have propagated to the remote side")
	}
}

// TestRestoreAfterRemoteEdit verifies a remote edit newer than a local
// tombstone restores the list.
func TestRestoreAfterRemoteEdit(t *testing.T) {
	repo := newTestRepo(t)
	fake := newFakeRemote()
	fake.lists = []*models.RemoteTodoList{{
		ID: "rl-1", Name: "revived", UpdatedAt: 1800,
		Items: []*models.RemoteTodoItem{
			{ID: "ri-1", ListID: "rl-1", Description: "back", UpdatedAt: 1800},
		},
	}}
	o := newTestOrchestrator(t, repo, fake, conflict.StrategyRemoteWins)

	list := &models.TodoList{
		Name: "old", ExternalID: "rl-1",
		LastModified: 1500, LastSyncedAt: 1000,
		IsDeleted: true, DeletedAt: 1500, PendingSync: true,
	}
	repo.CreateList(list)
	item := &models.TodoItem{
		ListID: list.ID, Description: "back", ExternalID: "ri-1",
		LastModified: 1000, LastSyncedAt: 1000,
		IsDeleted: true, DeletedAt: 1500, PendingSync: true,
	}
	repo.CreateItem(item)

	result, err := o.RunFullCycle(context.Background())
	if err != nil {
		t.Fatalf("RunFullCycle() error = %v", err)
	}
	if result.Restored != 1 {
		t.Errorf("Restored = %d, want 1", result.Restored)
	}

	got, _ := repo.GetList(string(list.ID))
	if got.IsDeleted {
		t.Fatal("list should be restored")
	}
	if got.Name != "revived" {
		t.Errorf("name = %q, want the remote copy", got.Name)
	}

	gotItem, _ := repo.GetItem(string(item.ID))
	if gotItem.IsDeleted {
		t.Error("item should be restored with its list")
	}
}

// TestPartialFailureIsolation verifies one failing list does not stop
// the others from syncing.
func TestPartialFailureIsolation(t *testing.T) {
	repo := newTestRepo(t)
	fake := newFakeRemote()
	fake.failWith["CreateList"] = &remote.APIError{StatusCode: 400, Message: "rejected"}
	o := newTestOrchestrator(t, repo, fake, conflict.StrategyRemoteWins)

	bad := &models.TodoList{Name: "bad", PendingSync: true}
	repo.CreateList(bad)
	good := &models.TodoList{
		Name: "good", ExternalID: "rl-9",
		LastModified: 1500, LastSyncedAt: 1000, PendingSync: true,
	}
	repo.CreateList(good)
	fake.lists = []*models.RemoteTodoList{{ID: "rl-9", Name: "good", UpdatedAt: 500}}

	result, err := o.RunFullCycle(context.Background())
	if err != nil {
		t.Fatalf("RunFullCycle() error = %v, failures belong in the result", err)
	}
	if result.Failures != 1 {
		t.Errorf("Failures = %d, want 1", result.Failures)
	}
	if result.Pushed != 1 {
		t.Errorf("Pushed = %d, want the good list", result.Pushed)
	}

	gotBad, _ := repo.GetList(string(bad.ID))
	if !gotBad.PendingSync || gotBad.ExternalID != "" {
		t.Error("failed list must stay pending for the next cycle")
	}
}

// TestPushCreationRetryDoesNotDuplicate verifies a push attempt whose
// remote create succeeded but whose local transaction rolled back can
// retry without creating the list remotely a second time: the retry
// reloads the committed row and reuses the already-assigned remote
// identity.
func TestPushCreationRetryDoesNotDuplicate(t *testing.T) {
	repo := newTestRepo(t)
	fake := newFakeRemote()
	o := newTestOrchestrator(t, repo, fake, conflict.StrategyRemoteWins)

	list := &models.TodoList{Name: "groceries", PendingSync: true}
	repo.CreateList(list)
	repo.CreateItem(&models.TodoItem{ListID: list.ID, Description: "milk", PendingSync: true})

	ctx := context.Background()
	memo := newPushMemo()
	attempt := func(failCommit bool) error {
		return o.repo.WithTx(func(tx *db.Repository) error {
			fresh, err := loadListForPush(tx, string(list.ID))
			if err != nil {
				return err
			}
			if err := o.pushList(ctx, tx, fresh, memo); err != nil {
				return err
			}
			if failCommit {
				return fmt.Errorf("injected commit failure")
			}
			return nil
		})
	}

	if err := attempt(true); err == nil {
		t.Fatal("first attempt should fail and roll back")
	}
	got, _ := repo.GetList(string(list.ID))
	if got.ExternalID != "" || !got.PendingSync {
		t.Fatalf("after rollback list = %+v, want still pending and unstamped", got)
	}

	if err := attempt(false); err != nil {
		t.Fatalf("retried attempt error = %v", err)
	}

	if fake.calls["CreateList"] != 1 {
		t.Errorf("CreateList calls = %d, want 1 across the retry", fake.calls["CreateList"])
	}
	if len(fake.lists) != 1 {
		t.Fatalf("remote lists = %d, want 1", len(fake.lists))
	}
	got, _ = repo.GetList(string(list.ID))
	if got.ExternalID != fake.lists[0].ID || got.PendingSync {
		t.Errorf("list = %+v, want stamped with %q and settled", got, fake.lists[0].ID)
	}
	items, _ := repo.ListItems(string(list.ID), false)
	if len(items) != 1 || items[0].ExternalID == "" {
		t.Errorf("items = %+v, want the item stamped from the first create", items)
	}

	// A following full cycle finds nothing left to create on either side.
	if _, err := o.RunFullCycle(ctx); err != nil {
		t.Fatalf("RunFullCycle() error = %v", err)
	}
	if fake.calls["CreateList"] != 1 {
		t.Errorf("next cycle repeated the create: CreateList calls = %d", fake.calls["CreateList"])
	}
	lists, _ := repo.ListActiveLists()
	if len(lists) != 1 {
		t.Errorf("local lists = %d, want 1", len(lists))
	}
}

// TestPushItemRetryDoesNotDuplicate verifies the same reuse for an item
// created on an already-synchronized list.
func TestPushItemRetryDoesNotDuplicate(t *testing.T) {
	repo := newTestRepo(t)
	fake := newFakeRemote()
	fake.lists = []*models.RemoteTodoList{{ID: "rl-1", Name: "work", UpdatedAt: 500}}
	o := newTestOrchestrator(t, repo, fake, conflict.StrategyRemoteWins)

	list := &models.TodoList{
		Name: "work", ExternalID: "rl-1",
		LastModified: 1000, LastSyncedAt: 1000,
	}
	repo.CreateList(list)
	item := &models.TodoItem{ListID: list.ID, Description: "milk", PendingSync: true}
	repo.CreateItem(item)

	ctx := context.Background()
	memo := newPushMemo()
	attempt := func(failCommit bool) error {
		return o.repo.WithTx(func(tx *db.Repository) error {
			fresh, err := loadListForPush(tx, string(list.ID))
			if err != nil {
				return err
			}
			if err := o.pushList(ctx, tx, fresh, memo); err != nil {
				return err
			}
			if failCommit {
				return fmt.Errorf("injected commit failure")
			}
			return nil
		})
	}

	if err := attempt(true); err == nil {
		t.Fatal("first attempt should fail and roll back")
	}
	if err := attempt(false); err != nil {
		t.Fatalf("retried attempt error = %v", err)
	}

	if fake.calls["CreateItem"] != 1 {
		t.Errorf("CreateItem calls = %d, want 1 across the retry", fake.calls["CreateItem"])
	}
	if len(fake.lists[0].Items) != 1 {
		t.Fatalf("remote items = %d, want 1", len(fake.lists[0].Items))
	}
	got, _ := repo.GetItem(string(item.ID))
	if got.ExternalID != fake.lists[0].Items[0].ID || got.PendingSync {
		t.Errorf("item = %+v, want stamped and settled", got)
	}
}

// TestPullRetryCountsOnce verifies a pull attempt that rolls back after
// partial processing leaves no trace in the cycle counters: only the
// attempt that commits is merged.
func TestPullRetryCountsOnce(t *testing.T) {
	repo := newTestRepo(t)
	fake := newFakeRemote()
	o := newTestOrchestrator(t, repo, fake, conflict.StrategyRemoteWins)

	rlist := &models.RemoteTodoList{
		ID: "rl-1", Name: "work", UpdatedAt: 900,
		Items: []*models.RemoteTodoItem{
			{ID: "ri-1", ListID: "rl-1", Description: "report", UpdatedAt: 900},
		},
	}

	result := &CycleResult{}
	attempt := func(failCommit bool) error {
		scratch := &CycleResult{}
		err := o.repo.WithTx(func(tx *db.Repository) error {
			if err := o.pullList(tx, rlist, scratch); err != nil {
				return err
			}
			if failCommit {
				return fmt.Errorf("injected commit failure")
			}
			return nil
		})
		if err != nil {
			return err
		}
		result.merge(scratch)
		return nil
	}

	if err := attempt(true); err == nil {
		t.Fatal("first attempt should fail and roll back")
	}
	if err := attempt(false); err != nil {
		t.Fatalf("retried attempt error = %v", err)
	}

	if result.Created != 1 {
		t.Errorf("Created = %d, want 1 despite the retry", result.Created)
	}
	lists, _ := repo.ListActiveLists()
	if len(lists) != 1 {
		t.Errorf("local lists = %d, want exactly one materialized copy", len(lists))
	}
}

// TestPushRetriesTransientRemoteFailure verifies the enabled resilience
// path: a transient transport failure on the create retries and settles
// with exactly one remote list.
func TestPushRetriesTransientRemoteFailure(t *testing.T) {
	repo := newTestRepo(t)
	fake := newFakeRemote()
	fake.failOnce["CreateList"] = &remote.TransportError{Op: "POST", Err: fmt.Errorf("connection refused")}
	o := NewOrchestrator(repo, fake, &Options{DefaultStrategy: conflict.StrategyRemoteWins})
	o.SetClock(func() int64 { return 2000 })
	noSleep(o.execs.Remote)
	noSleep(o.execs.Persistence)
	noSleep(o.execs.Reconcile)

	list := &models.TodoList{Name: "groceries", PendingSync: true}
	repo.CreateList(list)

	result, err := o.RunFullCycle(context.Background())
	if err != nil {
		t.Fatalf("RunFullCycle() error = %v", err)
	}
	if result.Pushed != 1 || result.Failures != 0 {
		t.Errorf("result = %+v, want one clean push", result)
	}
	if fake.calls["CreateList"] != 2 {
		t.Errorf("CreateList calls = %d, want a failure then a success", fake.calls["CreateList"])
	}
	if len(fake.lists) != 1 {
		t.Errorf("remote lists = %d, want 1", len(fake.lists))
	}

	got, _ := repo.GetList(string(list.ID))
	if got.ExternalID == "" || got.PendingSync {
		t.Errorf("list = %+v, want stamped and settled", got)
	}
}

// TestCycleRejectsConcurrentRun verifies only one cycle runs at a time.
func TestCycleRejectsConcurrentRun(t *testing.T) {
	repo := newTestRepo(t)
	fake := newFakeRemote()
	o := newTestOrchestrator(t, repo, fake, conflict.StrategyRemoteWins)

	o.mu.Lock()
	o.running = true
	o.mu.Unlock()

	if _, err := o.RunFullCycle(context.Background()); err == nil {
		t.Fatal("RunFullCycle() during a running cycle should fail")
	}
}

// TestWatermarkAdvancesOnPull verifies the watermark moves after a
// pull that changed something and skips unchanged remote lists on the
// next cycle.
func TestWatermarkAdvancesOnPull(t *testing.T) {
	repo := newTestRepo(t)
	fake := newFakeRemote()
	fake.lists = []*models.RemoteTodoList{{ID: "rl-1", Name: "work", UpdatedAt: 900}}
	o := newTestOrchestrator(t, repo, fake, conflict.StrategyRemoteWins)

	if _, err := o.RunFullCycle(context.Background()); err != nil {
		t.Fatalf("first cycle error = %v", err)
	}

	ts, err := o.Watermark().GetLastSyncTimestamp()
	if err != nil {
		t.Fatalf("GetLastSyncTimestamp() error = %v", err)
	}
	if ts != 2000 {
		t.Errorf("watermark = %d, want the cycle clock 2000", ts)
	}

	result, err := o.RunFullCycle(context.Background())
	if err != nil {
		t.Fatalf("second cycle error = %v", err)
	}
	if result.Unchanged == 0 {
		t.Error("untouched remote list should be skipped via the watermark")
	}
	if result.Created != 0 || result.Updated != 0 {
		t.Errorf("second cycle result = %+v, want no changes", result)
	}
}
