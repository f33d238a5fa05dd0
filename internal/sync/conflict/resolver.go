// Package conflict provides conflict detection and resolution for
// bidirectional synchronization.
package conflict

import (
	"time"

	apperrors "github.com/tasknexus/backend/internal/errors"
	"github.com/tasknexus/backend/internal/logging"
	"github.com/tasknexus/backend/internal/models"
)

// Adapter binds the generic resolver to one (local, remote) entity
// pair. The two concrete instantiations, list and item, share the
// same algorithm and differ only in which fields are diffed and how
// remote values are copied in.
type Adapter[L any, R any] struct {
	EntityType models.EntityType

	LocalID        func(local L) string
	RemoteID       func(remote R) string
	LocalModified  func(local L) int64
	RemoteModified func(remote R) int64
	LastSyncedAt   func(local L) int64

	// DiffFields returns the names of content fields whose local value
	// differs from the remote value.
	DiffFields func(local L, remote R) []string

	// ApplyRemote copies all remote content fields onto local and sets
	// local's LastModified to the remote's authoritative timestamp.
	ApplyRemote func(local L, remote R)

	// StampSynced advances local's LastSyncedAt to ts.
	StampSynced func(local L, ts int64)
}

// Resolver detects field-level divergence between a local entity and
// its remote counterpart and decides which side's values survive. It is
// stateless apart from its configuration; the only mutation it performs
// is on the local entity passed to ApplyResolution.
type Resolver[L any, R any] struct {
	adapter         Adapter[L, R]
	defaultStrategy Strategy
	now             func() int64
}

// NewResolver creates a Resolver for one entity pair. An invalid
// default strategy falls back to remote-wins.
func NewResolver[L any, R any](adapter Adapter[L, R], defaultStrategy Strategy) *Resolver[L, R] {
	if !defaultStrategy.IsValid() {
		defaultStrategy = StrategyRemoteWins
	}
	return &Resolver[L, R]{
		adapter:         adapter,
		defaultStrategy: defaultStrategy,
		now:             func() int64 { return time.Now().Unix() },
	}
}

// SetClock overrides the resolver's clock. Intended for tests.
func (r *Resolver[L, R]) SetClock(now func() int64) {
	r.now = now
}

// ResolveConflict diffs the entity pair and, when both sides changed
// since they last agreed, selects and runs a resolution strategy. An
// explicit override takes precedence over the configured default.
//
// The manual strategy returns an AppError with code
// MANUAL_RESOLUTION_REQUIRED instead of a usable answer; automatic
// reconciliation of that entity is impossible and the error is not
// retryable.
func (r *Resolver[L, R]) ResolveConflict(local L, remote R, override ...Strategy) (*models.ConflictInfo, error) {
	a := r.adapter

	info := &models.ConflictInfo{
		EntityType:     a.EntityType,
		LocalID:        a.LocalID(local),
		RemoteID:       a.RemoteID(remote),
		LocalModified:  a.LocalModified(local),
		RemoteModified: a.RemoteModified(remote),
		LastSyncedAt:   a.LastSyncedAt(local),
		ModifiedFields: a.DiffFields(local, remote),
		DetectedAt:     r.now(),
	}

	if !info.HasConflict() {
		// No conflict: the caller falls through to plain newest-wins in
		// ApplyResolution. Resolution stays unset.
		return info, nil
	}

	strategy := r.defaultStrategy
	if len(override) > 0 && override[0].IsValid() {
		strategy = override[0]
	}

	res := resolutionFor(strategy)
	info.Resolution = string(strategy)
	info.ResolutionReason = res.ResolutionReason(info)

	if strategy == StrategyManual {
		logging.ErrorWithCode("Conflict requires manual resolution",
			string(apperrors.ErrManualResolution), nil,
			map[string]interface{}{
				"entity_type":     string(info.EntityType),
				"local_id":        info.LocalID,
				"remote_id":       info.RemoteID,
				"local_modified":  info.LocalModified,
				"remote_modified": info.RemoteModified,
				"fields":          info.ModifiedFields,
			})
		return info, apperrors.New(apperrors.ErrManualResolution, info.ResolutionReason)
	}

	logging.Warn("Conflict resolved",
		map[string]interface{}{
			"entity_type":     string(info.EntityType),
			"local_id":        info.LocalID,
			"remote_id":       info.RemoteID,
			"strategy":        string(strategy),
			"fields":          info.ModifiedFields,
			"local_modified":  info.LocalModified,
			"remote_modified": info.RemoteModified,
		})

	return info, nil
}

// ApplyResolution mutates local according to the resolution recorded on
// info and stamps LastSyncedAt with "now" in every path, so repeated
// no-op reconciliations still advance the watermark. It reports whether
// remote field values were copied in.
func (r *Resolver[L, R]) ApplyResolution(local L, remote R, info *models.ConflictInfo) bool {
	a := r.adapter
	applied := false

	if info.HasConflict() {
		if resolutionFor(Strategy(info.Resolution)).ShouldApplyRemoteChanges(info) {
			a.ApplyRemote(local, remote)
			applied = true
		}
	} else if a.RemoteModified(remote) > a.LocalModified(local) {
		// No conflict: plain newest-wins on the raw timestamps.
		a.ApplyRemote(local, remote)
		applied = true
	}

	a.StampSynced(local, r.now())
	return applied
}
