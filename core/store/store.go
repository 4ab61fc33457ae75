// Package store holds the persistence contracts the dispatcher and workers
// write through, with in-memory and leveldb implementations.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pyropy/renderfarm/core/model"
)

var (
	ErrNotFound = errors.New("record not found")
)

type JobStore interface {
	Add(ctx context.Context, job model.Job) error
	Update(ctx context.Context, job model.Job) error
	ListAll(ctx context.Context) ([]model.Job, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// TaskStore is an ordered task queue. PollNext returns the oldest task
// without removing it, or nil when the store is empty.
type TaskStore interface {
	Add(ctx context.Context, task model.Task) error
	PollNext(ctx context.Context) (*model.Task, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteForJob(ctx context.Context, jobID uuid.UUID) error
}

// WorkerStore keeps the last known spec of discovered peers. Get returns nil
// for unknown peers.
type WorkerStore interface {
	Add(ctx context.Context, worker model.Worker) error
	Get(ctx context.Context, id peer.ID) (*model.Worker, error)
	ListAll(ctx context.Context) ([]model.Worker, error)
	Delete(ctx context.Context, id peer.ID) error
	Clear(ctx context.Context) error
}

type RenderStore interface {
	Create(ctx context.Context, info model.RenderInfo) (model.Render, error)
	List(ctx context.Context) ([]model.Render, error)
	Read(ctx context.Context, id uuid.UUID) (*model.Render, error)
	Update(ctx context.Context, id uuid.UUID, info model.RenderInfo) (model.Render, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Stores bundles one implementation of every contract, selected at startup.
type Stores struct {
	Jobs    JobStore
	Tasks   TaskStore
	Workers WorkerStore
	Renders RenderStore

	close func() error
}

func (s *Stores) Close() error {
	if s.close == nil {
		return nil
	}

	return s.close()
}

// Open returns leveldb backed stores rooted at path, or in-memory stores when
// path is empty.
func Open(path string) (*Stores, error) {
	if path == "" {
		return NewMemoryStores(), nil
	}

	return NewLevelStores(path)
}
