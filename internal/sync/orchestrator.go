package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tasknexus/backend/internal/db"
	apperrors "github.com/tasknexus/backend/internal/errors"
	"github.com/tasknexus/backend/internal/logging"
	"github.com/tasknexus/backend/internal/models"
	"github.com/tasknexus/backend/internal/remote"
	"github.com/tasknexus/backend/internal/sync/conflict"
)

// RemoteClient is the remote task service contract the orchestrator
// depends on. *remote.Client implements it; tests use a fake.
type RemoteClient interface {
	SourceID() string
	ListLists(ctx context.Context) ([]*models.RemoteTodoList, error)
	ListListsUpdatedSince(ctx context.Context, since int64) ([]*models.RemoteTodoList, error)
	CreateList(ctx context.Context, req *remote.CreateListRequest) (*models.RemoteTodoList, error)
	UpdateList(ctx context.Context, listID string, req *remote.UpdateListRequest) (*models.RemoteTodoList, error)
	DeleteList(ctx context.Context, listID string) error
	CreateItem(ctx context.Context, listID string, req *remote.ItemRequest) (*models.RemoteTodoItem, error)
	UpdateItem(ctx context.Context, listID, itemID string, req *remote.ItemRequest) (*models.RemoteTodoItem, error)
	DeleteItem(ctx context.Context, listID, itemID string) error
}

// CycleResult aggregates one full reconciliation cycle. Per-entity
// failures are tallied here instead of failing the batch.
type CycleResult struct {
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`

	Pushed            int `json:"pushed"`
	Pulled            int `json:"pulled"`
	Created           int `json:"created"`
	Updated           int `json:"updated"`
	Unchanged         int `json:"unchanged"`
	Restored          int `json:"restored"`
	Deleted           int `json:"deleted"`
	ConflictsResolved int `json:"conflicts_resolved"`
	Failures          int `json:"failures"`

	Errors []string `json:"errors,omitempty"`
}

func (r *CycleResult) fail(entityID string, err error) {
	r.Failures++
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", entityID, err))
}

// merge folds a per-entity scratch result into the cycle total.
func (r *CycleResult) merge(other *CycleResult) {
	r.Created += other.Created
	r.Updated += other.Updated
	r.Unchanged += other.Unchanged
	r.Restored += other.Restored
	r.Deleted += other.Deleted
	r.ConflictsResolved += other.ConflictsResolved
	r.Failures += other.Failures
	r.Errors = append(r.Errors, other.Errors...)
}

// Options configures the orchestrator.
type Options struct {
	// DefaultStrategy applies when no per-call override is given.
	// Defaults to remote-wins.
	DefaultStrategy conflict.Strategy

	// DisableResilience turns off all retry/backoff/breaker behavior,
	// for deterministic tests.
	DisableResilience bool

	// ServerSideDelta asks the remote service to filter the pull fetch
	// by the watermark. Under a filtered fetch, absence does not mean
	// deletion, so the list tombstone pass is skipped for that cycle.
	ServerSideDelta bool
}

// Orchestrator drives the full bidirectional reconciliation cycle:
// pull remote changes inward, push pending local changes outward, and
// propagate deletions discovered on either side. Each list is processed
// inside its own local-store transaction; one bad entity never aborts
// the batch.
type Orchestrator struct {
	repo         *db.Repository
	client       RemoteClient
	watermark    *WatermarkTracker
	execs        *ExecutorSet
	listResolver *conflict.Resolver[*models.TodoList, *models.RemoteTodoList]
	itemResolver *conflict.Resolver[*models.TodoItem, *models.RemoteTodoItem]

	serverSideDelta bool

	// conflicted collects entities whose pull-side reconciliation raised
	// a manual-resolution conflict during the current cycle; the push
	// phase leaves them alone so local edits are not blindly pushed over
	// the disputed remote copy. Reset at the start of every cycle; only
	// one cycle runs at a time.
	conflicted map[string]struct{}

	mu         sync.Mutex
	running    bool
	lastResult *CycleResult

	now func() int64
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(repo *db.Repository, client RemoteClient, opts *Options) *Orchestrator {
	if opts == nil {
		opts = &Options{}
	}
	strategy := opts.DefaultStrategy
	if !strategy.IsValid() {
		strategy = conflict.StrategyRemoteWins
	}
	return &Orchestrator{
		repo:            repo,
		client:          client,
		watermark:       NewWatermarkTracker(repo),
		execs:           NewExecutorSet(opts.DisableResilience),
		listResolver:    newListResolver(strategy),
		itemResolver:    newItemResolver(strategy),
		serverSideDelta: opts.ServerSideDelta,
		now:             func() int64 { return time.Now().Unix() },
	}
}

// SetClock overrides the orchestrator's clock. Intended for tests.
func (o *Orchestrator) SetClock(now func() int64) {
	o.now = now
	o.listResolver.SetClock(now)
	o.itemResolver.SetClock(now)
}

// Watermark exposes the tracker for status reporting.
func (o *Orchestrator) Watermark() *WatermarkTracker {
	return o.watermark
}

// IsRunning reports whether a cycle is in flight.
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// LastResult returns the most recent completed cycle result, or nil.
func (o *Orchestrator) LastResult() *CycleResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastResult
}

// PendingChanges returns the number of entities awaiting a push.
func (o *Orchestrator) PendingChanges() (int, error) {
	return o.repo.GetPendingChangesCount()
}

// RunFullCycle runs one full reconciliation cycle. The pull phase runs
// before the push phase so that incoming remote deletions and updates
// are applied before local-pending items are evaluated against stale
// state. Both phases are idempotent; a cycle that finds nothing to do
// makes no writes.
//
// Cancelling ctx between list iterations stops new work; an in-flight
// list transaction completes or rolls back cleanly.
func (o *Orchestrator) RunFullCycle(ctx context.Context) (*CycleResult, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrSyncInProgress, "sync cycle already in progress")
	}
	o.running = true
	o.mu.Unlock()

	o.conflicted = make(map[string]struct{})
	result := &CycleResult{StartTime: time.Now()}
	defer func() {
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
		o.mu.Lock()
		o.running = false
		o.lastResult = result
		o.mu.Unlock()
	}()

	logging.Info("Sync cycle started", nil)

	if err := o.pullPhase(ctx, result); err != nil {
		logging.Error("Pull phase failed", err, nil)
		return result, err
	}

	if err := o.pushPhase(ctx, result); err != nil {
		logging.Error("Push phase failed", err, nil)
		return result, err
	}

	logging.Info("Sync cycle completed",
		map[string]interface{}{
			"pushed":             result.Pushed,
			"pulled":             result.Pulled,
			"created":            result.Created,
			"updated":            result.Updated,
			"deleted":            result.Deleted,
			"restored":           result.Restored,
			"conflicts_resolved": result.ConflictsResolved,
			"failures":           result.Failures,
		})

	return result, nil
}

func (o *Orchestrator) callRemote(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return o.execs.Remote.Execute(ctx, op, fn)
}

// =====================================================
// Push phase: local -> remote
// =====================================================

func (o *Orchestrator) pushPhase(ctx context.Context, result *CycleResult) error {
	var lists []*models.TodoList
	err := o.execs.Persistence.Execute(ctx, "get pending lists", func(context.Context) error {
		var qErr error
		lists, qErr = o.repo.GetPendingLists()
		return qErr
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to load pending lists", err)
	}

	for _, list := range lists {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if _, disputed := o.conflicted[string(list.ID)]; disputed {
			// The pull phase raised a manual conflict on this list; its
			// local edits stay pending until an operator resolves it.
			continue
		}

		listID := string(list.ID)
		memo := newPushMemo()
		err := o.execs.Reconcile.Execute(ctx, "push list "+listID, func(ctx context.Context) error {
			return o.repo.WithTx(func(tx *db.Repository) error {
				// A failed attempt rolls its transaction back but may
				// have stamped the in-memory entity, so every attempt
				// starts from the committed row.
				fresh, err := loadListForPush(tx, listID)
				if err != nil {
					return err
				}
				return o.pushList(ctx, tx, fresh, memo)
			})
		})
		if err != nil {
			if apperrors.Is(err, apperrors.ErrRemotePayload) {
				// Contract violation with the remote service; not a
				// data-level failure, fail the phase.
				return err
			}
			logging.Error("Failed to push list", err,
				map[string]interface{}{"list_id": string(list.ID)})
			result.fail(string(list.ID), err)
			continue
		}
		result.Pushed++
	}

	return nil
}

// pushMemo remembers remote creations across retry attempts of a single
// list push. A retried attempt reuses the identity the remote side
// already assigned instead of creating the entity a second time.
type pushMemo struct {
	createdList  *models.RemoteTodoList
	createdItems map[string]*models.RemoteTodoItem // keyed by local item ID
}

func newPushMemo() *pushMemo {
	return &pushMemo{createdItems: make(map[string]*models.RemoteTodoItem)}
}

// loadListForPush reads the committed state of a list and all of its
// items, tombstones included, for one push attempt.
func loadListForPush(tx *db.Repository, id string) (*models.TodoList, error) {
	list, err := tx.GetList(id)
	if err != nil {
		return nil, err
	}
	items, err := tx.ListItems(id, true)
	if err != nil {
		return nil, err
	}
	list.Items = items
	return list, nil
}

// pushList pushes one list and its pending items. It runs inside a
// single local-store transaction: either every local stamp commits
// together or the list stays pending for the next cycle.
func (o *Orchestrator) pushList(ctx context.Context, tx *db.Repository, list *models.TodoList, memo *pushMemo) error {
	syncTS := o.now()

	switch {
	case list.IsDeleted && list.IsSynchronized():
		return o.pushListDeletion(ctx, tx, list, syncTS)
	case !list.IsSynchronized():
		return o.pushListCreation(ctx, tx, list, syncTS, memo)
	default:
		return o.pushListUpdate(ctx, tx, list, syncTS, memo)
	}
}

// pushListDeletion propagates a local tombstone. A remote 404 is an
// already-satisfied deletion.
func (o *Orchestrator) pushListDeletion(ctx context.Context, tx *db.Repository, list *models.TodoList, syncTS int64) error {
	err := o.callRemote(ctx, "delete remote list", func(ctx context.Context) error {
		return o.client.DeleteList(ctx, list.ExternalID)
	})
	if err != nil && !remote.IsNotFound(err) {
		return err
	}

	list.MarkSynced(syncTS)
	if err := tx.UpdateList(list); err != nil {
		return err
	}

	for _, item := range list.Items {
		if !item.IsDeleted {
			item.IsDeleted = true
			item.DeletedAt = syncTS
		}
		item.MarkSynced(syncTS)
		if err := tx.UpdateItem(item); err != nil {
			return err
		}
	}

	logging.Info("Pushed list deletion",
		map[string]interface{}{"list_id": string(list.ID), "external_id": list.ExternalID})
	return nil
}

// pushListCreation creates a never-synchronized list remotely with its
// active items in one batched call, then correlates the assigned item
// identities back by description equality (best effort; unmatched items
// stay pending and are created individually on the next cycle).
func (o *Orchestrator) pushListCreation(ctx context.Context, tx *db.Repository, list *models.TodoList, syncTS int64, memo *pushMemo) error {
	if list.IsDeleted {
		// Created and deleted locally without ever reaching the remote
		// side; the tombstone is terminal.
		list.MarkSynced(syncTS)
		if err := tx.UpdateList(list); err != nil {
			return err
		}
		for _, item := range list.Items {
			item.MarkSynced(syncTS)
			if err := tx.UpdateItem(item); err != nil {
				return err
			}
		}
		return nil
	}

	active := list.ActiveItems()
	req := &remote.CreateListRequest{
		Name:     list.Name,
		SourceID: o.client.SourceID(),
	}
	for _, item := range active {
		req.Items = append(req.Items, &remote.ItemRequest{
			Description: item.Description,
			Completed:   item.Completed,
		})
	}

	// A retried attempt whose remote create already succeeded reuses
	// that response rather than creating the list a second time.
	created := memo.createdList
	if created == nil {
		err := o.callRemote(ctx, "create remote list", func(ctx context.Context) error {
			var cErr error
			created, cErr = o.client.CreateList(ctx, req)
			return cErr
		})
		if err != nil {
			return err
		}
		if created == nil || created.ID == "" {
			return apperrors.New(apperrors.ErrRemotePayload, "remote create returned no list id")
		}
		memo.createdList = created
	}

	list.ExternalID = created.ID
	list.MarkSynced(syncTS)
	if err := tx.UpdateList(list); err != nil {
		return err
	}

	byDescription := make(map[string][]*models.RemoteTodoItem)
	for _, ritem := range created.Items {
		byDescription[ritem.Description] = append(byDescription[ritem.Description], ritem)
	}
	for _, item := range active {
		candidates := byDescription[item.Description]
		if len(candidates) == 0 {
			continue
		}
		item.ExternalID = candidates[0].ID
		byDescription[item.Description] = candidates[1:]
		item.MarkSynced(syncTS)
		if err := tx.UpdateItem(item); err != nil {
			return err
		}
	}

	logging.Info("Pushed list creation",
		map[string]interface{}{
			"list_id":     string(list.ID),
			"external_id": list.ExternalID,
			"items":       len(active),
		})
	return nil
}

// pushListUpdate pushes pending field changes of an already
// synchronized list and each of its pending items.
func (o *Orchestrator) pushListUpdate(ctx context.Context, tx *db.Repository, list *models.TodoList, syncTS int64, memo *pushMemo) error {
	if list.PendingSync {
		err := o.callRemote(ctx, "update remote list", func(ctx context.Context) error {
			_, uErr := o.client.UpdateList(ctx, list.ExternalID, &remote.UpdateListRequest{Name: list.Name})
			return uErr
		})
		if err != nil {
			return err
		}
		list.MarkSynced(syncTS)
		if err := tx.UpdateList(list); err != nil {
			return err
		}
	}

	for _, item := range list.Items {
		if !item.PendingSync {
			continue
		}
		if _, disputed := o.conflicted[string(item.ID)]; disputed {
			continue
		}
		if err := o.pushItem(ctx, tx, list, item, syncTS, memo); err != nil {
			return err
		}
	}

	return nil
}

func (o *Orchestrator) pushItem(ctx context.Context, tx *db.Repository, list *models.TodoList, item *models.TodoItem, syncTS int64, memo *pushMemo) error {
	switch {
	case item.IsDeleted && item.IsSynchronized():
		err := o.callRemote(ctx, "delete remote item", func(ctx context.Context) error {
			return o.client.DeleteItem(ctx, list.ExternalID, item.ExternalID)
		})
		if err != nil && !remote.IsNotFound(err) {
			return err
		}

	case item.IsDeleted:
		// Never reached the remote side; nothing to delete there.

	case !item.IsSynchronized():
		created := memo.createdItems[string(item.ID)]
		if created == nil {
			err := o.callRemote(ctx, "create remote item", func(ctx context.Context) error {
				var cErr error
				created, cErr = o.client.CreateItem(ctx, list.ExternalID, &remote.ItemRequest{
					Description: item.Description,
					Completed:   item.Completed,
				})
				return cErr
			})
			if err != nil {
				return err
			}
			if created == nil || created.ID == "" {
				return apperrors.New(apperrors.ErrRemotePayload, "remote create returned no item id")
			}
			memo.createdItems[string(item.ID)] = created
		}
		item.ExternalID = created.ID

	default:
		err := o.callRemote(ctx, "update remote item", func(ctx context.Context) error {
			_, uErr := o.client.UpdateItem(ctx, list.ExternalID, item.ExternalID, &remote.ItemRequest{
				Description: item.Description,
				Completed:   item.Completed,
			})
			return uErr
		})
		if err != nil {
			return err
		}
	}

	item.MarkSynced(syncTS)
	return tx.UpdateItem(item)
}

// =====================================================
// Pull phase: remote -> local
// =====================================================

func (o *Orchestrator) pullPhase(ctx context.Context, result *CycleResult) error {
	var deltaAvailable bool
	var since int64
	err := o.execs.Persistence.Execute(ctx, "read watermark", func(context.Context) error {
		var wErr error
		deltaAvailable, wErr = o.watermark.IsDeltaSyncAvailable()
		if wErr != nil {
			return wErr
		}
		since, wErr = o.watermark.GetLastSyncTimestamp()
		return wErr
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to read sync watermark", err)
	}

	if !deltaAvailable {
		// First-ever sync always runs an unfiltered fetch, even under
		// ServerSideDelta, so nothing predating local history is missed.
		// The earliest local modification is the window a filtered fetch
		// would have needed; it is reported for operators.
		if earliest, wErr := o.watermark.GetEarliestLastModified(); wErr == nil && earliest > 0 {
			logging.Debug("First sync, fetching the full remote set",
				map[string]interface{}{"earliest_last_modified": earliest})
		}
	}

	var remotes []*models.RemoteTodoList
	err = o.callRemote(ctx, "list remote lists", func(ctx context.Context) error {
		var lErr error
		if o.serverSideDelta && deltaAvailable {
			remotes, lErr = o.client.ListListsUpdatedSince(ctx, since)
		} else {
			remotes, lErr = o.client.ListLists(ctx)
		}
		return lErr
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrRemoteUnavailable, "failed to fetch remote lists", err)
	}

	before := *result

	activeIDs := make([]string, 0, len(remotes))
	for _, rlist := range remotes {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if rlist.ID == "" {
			return apperrors.New(apperrors.ErrRemotePayload, "remote list has no id")
		}
		activeIDs = append(activeIDs, rlist.ID)
		result.Pulled++

		// Client-side delta filter: a remote list untouched since the
		// watermark has nothing new to pull. Local-pending edits on it
		// are the push phase's job.
		if deltaAvailable && !o.serverSideDelta && rlist.UpdatedAt > 0 && rlist.UpdatedAt <= since {
			result.Unchanged++
			continue
		}

		rlist := rlist
		var pulled *CycleResult
		err := o.execs.Reconcile.Execute(ctx, "pull list "+rlist.ID, func(ctx context.Context) error {
			// Counters accumulate into a per-attempt scratch result so a
			// retried attempt cannot double-count entities it touched
			// before rolling back.
			scratch := &CycleResult{}
			if err := o.repo.WithTx(func(tx *db.Repository) error {
				return o.pullList(tx, rlist, scratch)
			}); err != nil {
				return err
			}
			pulled = scratch
			return nil
		})
		if err != nil {
			if apperrors.Is(err, apperrors.ErrRemotePayload) {
				return err
			}
			logging.Error("Failed to pull list", err,
				map[string]interface{}{"external_id": rlist.ID})
			result.fail(rlist.ID, err)
			continue
		}
		result.merge(pulled)
	}

	// Tombstone pass: lists we know remotely that the fetch no longer
	// contains were deleted on the remote side. Only valid against an
	// unfiltered fetch; under a delta fetch absence means "unchanged".
	if !(o.serverSideDelta && deltaAvailable) {
		if err := o.tombstoneOrphanedLists(ctx, activeIDs, result); err != nil {
			return err
		}
	}

	if pullChanged(&before, result) {
		wmTS := o.now()
		err := o.execs.Persistence.Execute(ctx, "advance watermark", func(context.Context) error {
			return o.watermark.UpdateLastSyncTimestamp(wmTS)
		})
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to advance sync watermark", err)
		}
	}

	return nil
}

func pullChanged(before, after *CycleResult) bool {
	return after.Created != before.Created ||
		after.Updated != before.Updated ||
		after.Deleted != before.Deleted ||
		after.Restored != before.Restored ||
		after.ConflictsResolved != before.ConflictsResolved
}

// pullList reconciles one remote list into the local store inside a
// transaction.
func (o *Orchestrator) pullList(tx *db.Repository, rlist *models.RemoteTodoList, result *CycleResult) error {
	nowTS := o.now()

	local, err := tx.GetListByExternalID(rlist.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return o.createLocalList(tx, rlist, nowTS, result)
	}
	if err != nil {
		return err
	}

	if local.IsDeleted {
		// A pending local tombstone outranks the remote copy unless the
		// remote side was modified after the deletion; the push phase
		// will propagate the delete. A remote edit after the local
		// delete is proof of life and restores the list.
		if local.PendingSync && rlist.UpdatedAt <= local.DeletedAt {
			result.Unchanged++
			return nil
		}
		return o.restoreLocalList(tx, local, rlist, nowTS, result)
	}

	info, err := o.listResolver.ResolveConflict(local, rlist)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrManualResolution) {
			o.conflicted[string(local.ID)] = struct{}{}
		}
		return err
	}
	applied := o.listResolver.ApplyResolution(local, rlist, info)
	if err := tx.UpdateList(local); err != nil {
		return err
	}

	switch {
	case info.ConflictResolved():
		result.ConflictsResolved++
		logging.Info("List conflict resolved",
			map[string]interface{}{
				"list_id": string(local.ID),
				"reason":  info.ResolutionReason,
			})
	case applied && len(info.ModifiedFields) > 0:
		result.Updated++
	default:
		result.Unchanged++
	}

	return o.pullItems(tx, local, rlist, nowTS, result)
}

// createLocalList materializes a remote list that has no local
// counterpart, stamped as already synchronized.
func (o *Orchestrator) createLocalList(tx *db.Repository, rlist *models.RemoteTodoList, nowTS int64, result *CycleResult) error {
	list := &models.TodoList{
		Name:         rlist.Name,
		ExternalID:   rlist.ID,
		LastModified: rlist.UpdatedAt,
		LastSyncedAt: nowTS,
		PendingSync:  false,
	}
	if err := tx.CreateList(list); err != nil {
		return err
	}

	for _, ritem := range rlist.Items {
		if ritem.ID == "" {
			return apperrors.New(apperrors.ErrRemotePayload, "remote item has no id")
		}
		item := &models.TodoItem{
			ListID:       list.ID,
			Description:  ritem.Description,
			Completed:    ritem.Completed,
			ExternalID:   ritem.ID,
			LastModified: ritem.UpdatedAt,
			LastSyncedAt: nowTS,
			PendingSync:  false,
		}
		if err := tx.CreateItem(item); err != nil {
			return err
		}
	}

	result.Created++
	logging.Info("Created local list from remote",
		map[string]interface{}{"list_id": string(list.ID), "external_id": rlist.ID})
	return nil
}

// restoreLocalList undoes a local tombstone when the remote side still
// has the list: the remote copy is proof of life.
func (o *Orchestrator) restoreLocalList(tx *db.Repository, local *models.TodoList, rlist *models.RemoteTodoList, nowTS int64, result *CycleResult) error {
	local.IsDeleted = false
	local.DeletedAt = 0
	local.Name = rlist.Name
	local.LastModified = rlist.UpdatedAt
	local.MarkSynced(nowTS)
	if err := tx.UpdateList(local); err != nil {
		return err
	}

	localItems, err := tx.ListItems(string(local.ID), true)
	if err != nil {
		return err
	}
	byExternalID := make(map[string]*models.TodoItem, len(localItems))
	for _, item := range localItems {
		if item.ExternalID != "" {
			byExternalID[item.ExternalID] = item
		}
	}

	for _, ritem := range rlist.Items {
		if ritem.ID == "" {
			return apperrors.New(apperrors.ErrRemotePayload, "remote item has no id")
		}
		match := byExternalID[ritem.ID]
		switch {
		case match == nil:
			item := &models.TodoItem{
				ListID:       local.ID,
				Description:  ritem.Description,
				Completed:    ritem.Completed,
				ExternalID:   ritem.ID,
				LastModified: ritem.UpdatedAt,
				LastSyncedAt: nowTS,
				PendingSync:  false,
			}
			if err := tx.CreateItem(item); err != nil {
				return err
			}
		case match.IsDeleted:
			match.IsDeleted = false
			match.DeletedAt = 0
			match.Description = ritem.Description
			match.Completed = ritem.Completed
			match.LastModified = ritem.UpdatedAt
			match.MarkSynced(nowTS)
			if err := tx.UpdateItem(match); err != nil {
				return err
			}
		}
	}

	result.Restored++
	logging.Info("Restored soft-deleted list from remote",
		map[string]interface{}{"list_id": string(local.ID), "external_id": rlist.ID})
	return nil
}

// pullItems reconciles a list's items: create unmatched remote items,
// resolve matched pairs, and tombstone local items the remote side no
// longer has.
func (o *Orchestrator) pullItems(tx *db.Repository, local *models.TodoList, rlist *models.RemoteTodoList, nowTS int64, result *CycleResult) error {
	localItems, err := tx.ListItems(string(local.ID), true)
	if err != nil {
		return err
	}
	byExternalID := make(map[string]*models.TodoItem, len(localItems))
	for _, item := range localItems {
		if item.ExternalID != "" {
			byExternalID[item.ExternalID] = item
		}
	}

	remoteIDs := make([]string, 0, len(rlist.Items))
	for _, ritem := range rlist.Items {
		if ritem.ID == "" {
			return apperrors.New(apperrors.ErrRemotePayload, "remote item has no id")
		}
		remoteIDs = append(remoteIDs, ritem.ID)

		match := byExternalID[ritem.ID]
		if match == nil {
			item := &models.TodoItem{
				ListID:       local.ID,
				Description:  ritem.Description,
				Completed:    ritem.Completed,
				ExternalID:   ritem.ID,
				LastModified: ritem.UpdatedAt,
				LastSyncedAt: nowTS,
				PendingSync:  false,
			}
			if err := tx.CreateItem(item); err != nil {
				return err
			}
			result.Created++
			continue
		}

		if match.IsDeleted {
			// Local deletion is pending; the push phase propagates it.
			continue
		}

		info, err := o.itemResolver.ResolveConflict(match, ritem)
		if err != nil {
			// Item-granularity failure: this item halts, its siblings
			// keep reconciling.
			if apperrors.Is(err, apperrors.ErrManualResolution) {
				o.conflicted[string(match.ID)] = struct{}{}
			}
			logging.Error("Failed to reconcile item", err,
				map[string]interface{}{"item_id": string(match.ID), "external_id": ritem.ID})
			result.fail(string(match.ID), err)
			continue
		}
		applied := o.itemResolver.ApplyResolution(match, ritem, info)
		if err := tx.UpdateItem(match); err != nil {
			return err
		}

		switch {
		case info.ConflictResolved():
			result.ConflictsResolved++
		case applied && len(info.ModifiedFields) > 0:
			result.Updated++
		default:
			result.Unchanged++
		}
	}

	orphans, err := tx.GetOrphanedItems(string(local.ID), remoteIDs)
	if err != nil {
		return err
	}
	for _, item := range orphans {
		o.tombstoneItem(item, nowTS)
		if err := tx.UpdateItem(item); err != nil {
			return err
		}
		result.Deleted++
	}

	return nil
}

// tombstoneOrphanedLists soft-deletes lists that are synchronized
// locally but absent from the remote fetch, along with their items.
func (o *Orchestrator) tombstoneOrphanedLists(ctx context.Context, activeIDs []string, result *CycleResult) error {
	var orphans []*models.TodoList
	err := o.execs.Persistence.Execute(ctx, "get orphaned lists", func(context.Context) error {
		var qErr error
		orphans, qErr = o.repo.GetOrphanedLists(activeIDs)
		return qErr
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to find orphaned lists", err)
	}

	for _, list := range orphans {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		list := list
		nowTS := o.now()
		err := o.repo.WithTx(func(tx *db.Repository) error {
			// Remote-initiated tombstone: mark deleted and synced, not
			// pending; there is nothing left to push.
			list.IsDeleted = true
			list.DeletedAt = nowTS
			list.MarkSynced(nowTS)
			if err := tx.UpdateList(list); err != nil {
				return err
			}

			items, err := tx.ListItems(string(list.ID), false)
			if err != nil {
				return err
			}
			for _, item := range items {
				o.tombstoneItem(item, nowTS)
				if err := tx.UpdateItem(item); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			logging.Error("Failed to tombstone list", err,
				map[string]interface{}{"list_id": string(list.ID)})
			result.fail(string(list.ID), err)
			continue
		}
		result.Deleted++
		logging.Info("Tombstoned list deleted remotely",
			map[string]interface{}{"list_id": string(list.ID), "external_id": list.ExternalID})
	}

	return nil
}

func (o *Orchestrator) tombstoneItem(item *models.TodoItem, nowTS int64) {
	item.IsDeleted = true
	item.DeletedAt = nowTS
	item.MarkSynced(nowTS)
}
