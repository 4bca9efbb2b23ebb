package sync

import (
	"time"

	"github.com/taskbridge/taskbridge/pkg/api"
)

// Resolution is a conflict resolver's verdict for one task.
type Resolution int

const (
	// KeepLocal pushes the local version to the remote service.
	KeepLocal Resolution = iota
	// KeepRemote overwrites the local staged row with the remote version.
	KeepRemote
	// Unresolved leaves both sides untouched and reports the conflict.
	Unresolved
)

// Conflict describes a task modified on both sides since the last pull.
type Conflict struct {
	Task            *api.StagedTask
	LocalUpdatedAt  time.Time
	RemoteUpdatedAt time.Time
}

// ConflictResolver decides what to do with a task that changed both
// locally and remotely.
type ConflictResolver interface {
	Name() string
	Resolve(c Conflict) Resolution
}

// LastWriteWins resolves every conflict in favor of the side with the
// later modification time. Ties go to the remote side, which is the
// source of record.
type LastWriteWins struct{}

var _ ConflictResolver = LastWriteWins{}

func (LastWriteWins) Name() string { return "last-write-wins" }

func (LastWriteWins) Resolve(c Conflict) Resolution {
	if c.LocalUpdatedAt.After(c.RemoteUpdatedAt) {
		return KeepLocal
	}
	return KeepRemote
}
