// Package conflict provides conflict detection and resolution for
// bidirectional synchronization.
package conflict

import (
	"fmt"
	"strings"

	"github.com/tasknexus/backend/internal/models"
)

// Strategy selects which side of a detected conflict survives.
type Strategy string

const (
	StrategyRemoteWins Strategy = "remote_wins"
	StrategyLocalWins  Strategy = "local_wins"
	StrategyManual     Strategy = "manual"
)

// IsValid reports whether s is a known strategy.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyRemoteWins, StrategyLocalWins, StrategyManual:
		return true
	}
	return false
}

// Resolution is the behavior behind a strategy. New strategies plug in
// by extending the factory, not by touching the resolver.
type Resolution interface {
	// ShouldApplyRemoteChanges decides whether the remote side's field
	// values overwrite local state.
	ShouldApplyRemoteChanges(info *models.ConflictInfo) bool

	// ResolutionReason produces the human-readable explanation recorded
	// on the ConflictInfo.
	ResolutionReason(info *models.ConflictInfo) string
}

// resolutionFor is the strategy factory. Unknown strategies fall back
// to remote-wins, the configured default for this system.
func resolutionFor(strategy Strategy) Resolution {
	switch strategy {
	case StrategyLocalWins:
		return localWins{}
	case StrategyManual:
		return manual{}
	default:
		return remoteWins{}
	}
}

type remoteWins struct{}

func (remoteWins) ShouldApplyRemoteChanges(info *models.ConflictInfo) bool {
	return true
}

func (remoteWins) ResolutionReason(info *models.ConflictInfo) string {
	return fmt.Sprintf("remote wins: remote copy of %s %s overwrites local fields [%s]",
		info.EntityType, info.RemoteID, strings.Join(info.ModifiedFields, ", "))
}

type localWins struct{}

func (localWins) ShouldApplyRemoteChanges(info *models.ConflictInfo) bool {
	return false
}

func (localWins) ResolutionReason(info *models.ConflictInfo) string {
	return fmt.Sprintf("local wins: local copy of %s %s kept, remote fields [%s] discarded",
		info.EntityType, info.LocalID, strings.Join(info.ModifiedFields, ", "))
}

// manual never produces a usable answer; the resolver raises instead of
// returning so the entity halts until an operator reviews it.
type manual struct{}

func (manual) ShouldApplyRemoteChanges(info *models.ConflictInfo) bool {
	return false
}

func (manual) ResolutionReason(info *models.ConflictInfo) string {
	return fmt.Sprintf(
		"manual resolution required for %s (local %s, remote %s): both sides modified since last sync at %d (local %d, remote %d), fields [%s]",
		info.EntityType, info.LocalID, info.RemoteID, info.LastSyncedAt,
		info.LocalModified, info.RemoteModified, strings.Join(info.ModifiedFields, ", "))
}
