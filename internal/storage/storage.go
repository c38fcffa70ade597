package storage

import (
	"context"

	"poolscope/internal/model"
)

// Store persists ledger and wallet state between runs.
type Store interface {
	Load(ctx context.Context) (model.State, bool, error)
	Save(ctx context.Context, state model.State) error
}

// Journal is an append-only sink for committed ledger events.
type Journal interface {
	PutEventBatch(events []model.Event) error
}
