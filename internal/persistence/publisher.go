package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/roomsync/collab/internal/crdt"
)

// NATSPersister implements roomserver.Persister: Save publishes a
// compressed snapshot envelope to NATS (the debounced "hand the blob to
// an opaque collaborator" step of §4.8/§6.2) without blocking on a
// Postgres write; Load reads synchronously from store, since room
// startup needs the last snapshot before accepting its first joiner.
type NATSPersister struct {
	nc      *nats.Conn
	subject string
	store   *PostgresStore
	logger  *zap.Logger
}

// NewNATSPersister builds a persister that publishes to subject and reads
// back through store.
func NewNATSPersister(nc *nats.Conn, subject string, store *PostgresStore, logger *zap.Logger) *NATSPersister {
	return &NATSPersister{nc: nc, subject: subject, store: store, logger: logger}
}

func (p *NATSPersister) Save(ctx context.Context, roomID string, snapshot crdt.SerializedCrdt, clock uint64) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("persistence: marshal snapshot for %s: %w", roomID, err)
	}
	envelope := Envelope{RoomID: roomID, Clock: clock, CompressedBlob: compress(raw)}
	b, err := marshalEnvelope(envelope)
	if err != nil {
		return fmt.Errorf("persistence: marshal envelope for %s: %w", roomID, err)
	}
	if err := p.nc.Publish(p.subject, b); err != nil {
		return fmt.Errorf("persistence: publish snapshot for %s: %w", roomID, err)
	}
	return nil
}

func (p *NATSPersister) Load(ctx context.Context, roomID string) (crdt.SerializedCrdt, uint64, bool, error) {
	blob, clock, found, err := p.store.Get(ctx, roomID)
	if err != nil || !found {
		return crdt.SerializedCrdt{}, 0, found, err
	}
	raw, err := decompress(blob)
	if err != nil {
		return crdt.SerializedCrdt{}, 0, false, err
	}
	var snapshot crdt.SerializedCrdt
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return crdt.SerializedCrdt{}, 0, false, fmt.Errorf("persistence: unmarshal snapshot for %s: %w", roomID, err)
	}
	return snapshot, clock, true, nil
}

// RunConsumer subscribes to subject and writes every received envelope's
// already-compressed blob straight to store, without re-compressing. It
// blocks until ctx is canceled; cmd/worker runs this as its main loop.
func RunConsumer(ctx context.Context, nc *nats.Conn, subject string, store *PostgresStore, logger *zap.Logger) error {
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		envelope, err := unmarshalEnvelope(msg.Data)
		if err != nil {
			logger.Warn("dropping malformed snapshot envelope", zap.Error(err))
			return
		}
		putCtx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := store.Put(putCtx, envelope.RoomID, envelope.CompressedBlob, envelope.Clock); err != nil {
			logger.Error("failed to persist snapshot", zap.String("room", envelope.RoomID), zap.Error(err))
			return
		}
		logger.Debug("persisted snapshot", zap.String("room", envelope.RoomID), zap.Uint64("clock", envelope.Clock))
	})
	if err != nil {
		return fmt.Errorf("persistence: subscribe %s: %w", subject, err)
	}
	defer sub.Unsubscribe()

	<-ctx.Done()
	return ctx.Err()
}
