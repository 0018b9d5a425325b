package checkpoint

import (
	"context"

	"github.com/claudecluster/core/internal/model"
)

// NoopStore is the default checkpoint backend: the driver's in-memory state
// is authoritative and nothing survives a restart. Grounded on the
// teacher's in-memory repository shape, simplified to the point of holding
// no state at all since there is nothing to checkpoint.
type NoopStore struct{}

// NewNoopStore returns a Store that discards every write.
func NewNoopStore() *NoopStore {
	return &NoopStore{}
}

func (s *NoopStore) SaveTask(ctx context.Context, task *model.Task) error       { return nil }
func (s *NoopStore) SaveResult(ctx context.Context, result *model.TaskResult) error { return nil }
func (s *NoopStore) SaveSession(ctx context.Context, session *model.Session) error { return nil }
func (s *NoopStore) DeleteSession(ctx context.Context, id string) error         { return nil }
func (s *NoopStore) LoadAll(ctx context.Context) (Snapshot, error)              { return Snapshot{}, nil }
func (s *NoopStore) Close() error                                               { return nil }

var _ Store = (*NoopStore)(nil)
