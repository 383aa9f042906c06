package roomserver

import (
	"context"

	"github.com/roomsync/collab/internal/crdt"
)

// Persister is the opaque blob collaborator of §6.2/§4.8: rooms hand it a
// serialized snapshot on a debounced schedule and ask it for the last
// snapshot on startup. internal/persistence provides the NATS/Postgres
// implementation; tests use an in-memory stub.
type Persister interface {
	Load(ctx context.Context, roomID string) (snapshot crdt.SerializedCrdt, clock uint64, found bool, err error)
	Save(ctx context.Context, roomID string, snapshot crdt.SerializedCrdt, clock uint64) error
}

// NoopPersister never has persisted state and discards every save. Useful
// for ephemeral rooms and in tests that don't exercise §4.8's persistence
// path.
type NoopPersister struct{}

func (NoopPersister) Load(ctx context.Context, roomID string) (crdt.SerializedCrdt, uint64, bool, error) {
	return crdt.SerializedCrdt{}, 0, false, nil
}

func (NoopPersister) Save(ctx context.Context, roomID string, snapshot crdt.SerializedCrdt, clock uint64) error {
	return nil
}
