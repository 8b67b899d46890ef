// Package store persists the last-seen package snapshot between collection
// cycles and keeps a journal of cycle outcomes.
//
// Two snapshot backends are provided: FileStore, a flat text file replaced
// atomically on every save, and DB, a SQLite database that also hosts the
// cycle journal.
package store

import (
	"context"
	"errors"

	"github.com/blackwell-systems/rpmannotate/internal/snapshot"
)

// ErrNoSnapshot is returned by Load when nothing has been persisted yet.
// It marks a first run and is not a persistence failure.
var ErrNoSnapshot = errors.New("no persisted snapshot")

// Store loads and saves the most recent snapshot.
type Store interface {
	Load(ctx context.Context) (snapshot.Snapshot, error)
	Save(ctx context.Context, s snapshot.Snapshot) error
}

// Backend names accepted by configuration.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)
