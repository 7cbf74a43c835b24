// Package ledger persists account snapshots. A Store keeps one
// snapshot per profile; the engine saves after every mutation and
// loads once at startup.
package ledger

import (
	"context"
	"errors"

	"main/internal/schema"
)

// ErrNotFound is returned when a profile has no stored snapshot.
var ErrNotFound = errors.New("snapshot not found")

// Store persists account snapshots by profile name.
type Store interface {
	// Save writes the snapshot, replacing any previous one for the
	// same profile.
	Save(ctx context.Context, snap *schema.Snapshot) error

	// Load returns the snapshot for a profile, or ErrNotFound.
	Load(ctx context.Context, profile string) (*schema.Snapshot, error)

	// Delete removes a profile's snapshot. Deleting a missing
	// profile is not an error.
	Delete(ctx context.Context, profile string) error

	// Profiles lists the stored profile names.
	Profiles(ctx context.Context) ([]string, error)

	// Close releases any underlying resources.
	Close() error
}
