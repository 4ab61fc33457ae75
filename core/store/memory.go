package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pyropy/renderfarm/core/model"
	"github.com/pyropy/renderfarm/lib/cmap"
)

func NewMemoryStores() *Stores {
	return &Stores{
		Jobs:    NewMemoryJobStore(),
		Tasks:   NewMemoryTaskStore(),
		Workers: NewMemoryWorkerStore(),
		Renders: NewMemoryRenderStore(),
	}
}

type MemoryJobStore struct {
	Jobs *cmap.Map[uuid.UUID, model.Job]
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		Jobs: cmap.NewMap[uuid.UUID, model.Job](),
	}
}

func (s *MemoryJobStore) Add(_ context.Context, job model.Job) error {
	s.Jobs.Set(job.ID, job)
	return nil
}

func (s *MemoryJobStore) Update(_ context.Context, job model.Job) error {
	if _, exists := s.Jobs.Get(job.ID); !exists {
		return ErrNotFound
	}

	s.Jobs.Set(job.ID, job)
	return nil
}

func (s *MemoryJobStore) ListAll(_ context.Context) ([]model.Job, error) {
	jobs := make([]model.Job, 0)
	s.Jobs.Range(func(_ uuid.UUID, job model.Job) bool {
		jobs = append(jobs, job)
		return true
	})

	return jobs, nil
}

func (s *MemoryJobStore) Delete(_ context.Context, id uuid.UUID) error {
	s.Jobs.Delete(id)
	return nil
}

// MemoryTaskStore keeps tasks in insertion order.
type MemoryTaskStore struct {
	mu    sync.Mutex
	tasks []model.Task
}

func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{}
}

func (s *MemoryTaskStore) Add(_ context.Context, task model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.tasks {
		if t.ID == task.ID {
			s.tasks[i] = task
			return nil
		}
	}

	s.tasks = append(s.tasks, task)
	return nil
}

func (s *MemoryTaskStore) PollNext(_ context.Context) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.tasks) == 0 {
		return nil, nil
	}

	task := s.tasks[0]
	return &task, nil
}

func (s *MemoryTaskStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = filterTasks(s.tasks, func(t model.Task) bool { return t.ID != id })
	return nil
}

func (s *MemoryTaskStore) DeleteForJob(_ context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = filterTasks(s.tasks, func(t model.Task) bool { return t.JobID != jobID })
	return nil
}

func filterTasks(tasks []model.Task, keep func(model.Task) bool) []model.Task {
	result := tasks[:0]
	for _, t := range tasks {
		if keep(t) {
			result = append(result, t)
		}
	}

	return result
}

type MemoryWorkerStore struct {
	Workers *cmap.Map[peer.ID, model.Worker]
}

func NewMemoryWorkerStore() *MemoryWorkerStore {
	return &MemoryWorkerStore{
		Workers: cmap.NewMap[peer.ID, model.Worker](),
	}
}

func (s *MemoryWorkerStore) Add(_ context.Context, worker model.Worker) error {
	s.Workers.Set(worker.ID, worker)
	return nil
}

func (s *MemoryWorkerStore) Get(_ context.Context, id peer.ID) (*model.Worker, error) {
	worker, exists := s.Workers.Get(id)
	if !exists {
		return nil, nil
	}

	return &worker, nil
}

func (s *MemoryWorkerStore) ListAll(_ context.Context) ([]model.Worker, error) {
	workers := make([]model.Worker, 0)
	s.Workers.Range(func(_ peer.ID, w model.Worker) bool {
		workers = append(workers, w)
		return true
	})

	return workers, nil
}

func (s *MemoryWorkerStore) Delete(_ context.Context, id peer.ID) error {
	s.Workers.Delete(id)
	return nil
}

func (s *MemoryWorkerStore) Clear(_ context.Context) error {
	s.Workers.Clear()
	return nil
}

type MemoryRenderStore struct {
	Renders *cmap.Map[uuid.UUID, model.Render]
}

func NewMemoryRenderStore() *MemoryRenderStore {
	return &MemoryRenderStore{
		Renders: cmap.NewMap[uuid.UUID, model.Render](),
	}
}

func (s *MemoryRenderStore) Create(_ context.Context, info model.RenderInfo) (model.Render, error) {
	render := model.Render{
		ID:         uuid.New(),
		RenderInfo: info,
		CreatedAt:  time.Now(),
	}

	s.Renders.Set(render.ID, render)
	return render, nil
}

// List returns renders ordered by creation time.
func (s *MemoryRenderStore) List(_ context.Context) ([]model.Render, error) {
	renders := make([]model.Render, 0)
	s.Renders.Range(func(_ uuid.UUID, r model.Render) bool {
		renders = append(renders, r)
		return true
	})

	sort.Slice(renders, func(i, j int) bool {
		return renders[i].CreatedAt.Before(renders[j].CreatedAt)
	})

	return renders, nil
}

func (s *MemoryRenderStore) Read(_ context.Context, id uuid.UUID) (*model.Render, error) {
	render, exists := s.Renders.Get(id)
	if !exists {
		return nil, ErrNotFound
	}

	return &render, nil
}

func (s *MemoryRenderStore) Update(_ context.Context, id uuid.UUID, info model.RenderInfo) (model.Render, error) {
	render, exists := s.Renders.Get(id)
	if !exists {
		return model.Render{}, ErrNotFound
	}

	render.RenderInfo = info
	s.Renders.Set(id, render)
	return render, nil
}

func (s *MemoryRenderStore) Delete(_ context.Context, id uuid.UUID) error {
	s.Renders.Delete(id)
	return nil
}
