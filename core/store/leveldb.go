package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	dslvl "github.com/ipfs/go-ds-leveldb"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pyropy/renderfarm/core/model"
)

const (
	jobsPrefix    = "/jobs"
	tasksPrefix   = "/tasks"
	workersPrefix = "/workers"
	rendersPrefix = "/renders"
)

// NewLevelStores opens a single leveldb datastore at path and namespaces each
// store by key prefix.
func NewLevelStores(path string) (*Stores, error) {
	db, err := dslvl.NewDatastore(path, nil)
	if err != nil {
		return nil, err
	}

	return &Stores{
		Jobs:    &LevelJobStore{DB: db},
		Tasks:   NewLevelTaskStore(db),
		Workers: &LevelWorkerStore{DB: db},
		Renders: &LevelRenderStore{DB: db},
		close:   db.Close,
	}, nil
}

func childKey(prefix, name string) ds.Key {
	return ds.NewKey(prefix).ChildString(name)
}

func put(ctx context.Context, db *dslvl.Datastore, k ds.Key, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return db.Put(ctx, k, b)
}

func get(ctx context.Context, db *dslvl.Datastore, k ds.Key, v any) error {
	b, err := db.Get(ctx, k)
	if errors.Is(err, ds.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	return json.Unmarshal(b, v)
}

// all decodes every value under prefix with decode.
func all(ctx context.Context, db *dslvl.Datastore, prefix string, decode func(key string, value []byte) error) error {
	res, err := db.Query(ctx, dsq.Query{Prefix: prefix})
	if err != nil {
		return err
	}
	defer res.Close()

	for {
		r, hasNext := res.NextSync()
		if !hasNext {
			return nil
		}
		if r.Error != nil {
			return r.Error
		}

		if err := decode(r.Key, r.Value); err != nil {
			return err
		}
	}
}

type LevelJobStore struct {
	DB *dslvl.Datastore
}

func (s *LevelJobStore) Add(ctx context.Context, job model.Job) error {
	return put(ctx, s.DB, childKey(jobsPrefix, job.ID.String()), job)
}

func (s *LevelJobStore) Update(ctx context.Context, job model.Job) error {
	k := childKey(jobsPrefix, job.ID.String())
	exists, err := s.DB.Has(ctx, k)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}

	return put(ctx, s.DB, k, job)
}

func (s *LevelJobStore) ListAll(ctx context.Context) ([]model.Job, error) {
	jobs := make([]model.Job, 0)
	err := all(ctx, s.DB, jobsPrefix, func(_ string, b []byte) error {
		var job model.Job
		if err := json.Unmarshal(b, &job); err != nil {
			return err
		}
		jobs = append(jobs, job)
		return nil
	})

	return jobs, err
}

func (s *LevelJobStore) Delete(ctx context.Context, id uuid.UUID) error {
	return s.DB.Delete(ctx, childKey(jobsPrefix, id.String()))
}

type taskRecord struct {
	Seq  int64      `json:"seq"`
	Task model.Task `json:"task"`
}

// LevelTaskStore orders tasks by an insertion sequence stored alongside them.
type LevelTaskStore struct {
	DB  *dslvl.Datastore
	seq atomic.Int64
}

func NewLevelTaskStore(db *dslvl.Datastore) *LevelTaskStore {
	s := &LevelTaskStore{DB: db}
	s.seq.Store(time.Now().UnixNano())
	return s
}

func (s *LevelTaskStore) Add(ctx context.Context, task model.Task) error {
	k := childKey(tasksPrefix, task.ID.String())

	var existing taskRecord
	err := get(ctx, s.DB, k, &existing)
	switch {
	case err == nil:
		existing.Task = task
		return put(ctx, s.DB, k, existing)
	case !errors.Is(err, ErrNotFound):
		return err
	}

	return put(ctx, s.DB, k, taskRecord{Seq: s.seq.Add(1), Task: task})
}

func (s *LevelTaskStore) records(ctx context.Context) ([]taskRecord, error) {
	records := make([]taskRecord, 0)
	err := all(ctx, s.DB, tasksPrefix, func(_ string, b []byte) error {
		var r taskRecord
		if err := json.Unmarshal(b, &r); err != nil {
			// a record that no longer decodes must not block the queue
			return nil
		}
		records = append(records, r)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Seq < records[j].Seq
	})

	return records, nil
}

func (s *LevelTaskStore) PollNext(ctx context.Context) (*model.Task, error) {
	records, err := s.records(ctx)
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, nil
	}

	return &records[0].Task, nil
}

func (s *LevelTaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	return s.DB.Delete(ctx, childKey(tasksPrefix, id.String()))
}

func (s *LevelTaskStore) DeleteForJob(ctx context.Context, jobID uuid.UUID) error {
	records, err := s.records(ctx)
	if err != nil {
		return err
	}

	for _, r := range records {
		if r.Task.JobID != jobID {
			continue
		}

		if err := s.Delete(ctx, r.Task.ID); err != nil {
			return err
		}
	}

	return nil
}

type LevelWorkerStore struct {
	DB *dslvl.Datastore
}

func (s *LevelWorkerStore) Add(ctx context.Context, worker model.Worker) error {
	return put(ctx, s.DB, childKey(workersPrefix, worker.ID.String()), worker)
}

func (s *LevelWorkerStore) Get(ctx context.Context, id peer.ID) (*model.Worker, error) {
	var worker model.Worker
	err := get(ctx, s.DB, childKey(workersPrefix, id.String()), &worker)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &worker, nil
}

func (s *LevelWorkerStore) ListAll(ctx context.Context) ([]model.Worker, error) {
	workers := make([]model.Worker, 0)
	err := all(ctx, s.DB, workersPrefix, func(_ string, b []byte) error {
		var w model.Worker
		if err := json.Unmarshal(b, &w); err != nil {
			return err
		}
		workers = append(workers, w)
		return nil
	})

	return workers, err
}

func (s *LevelWorkerStore) Delete(ctx context.Context, id peer.ID) error {
	return s.DB.Delete(ctx, childKey(workersPrefix, id.String()))
}

func (s *LevelWorkerStore) Clear(ctx context.Context) error {
	keys := make([]string, 0)
	err := all(ctx, s.DB, workersPrefix, func(key string, _ []byte) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return err
	}

	for _, k := range keys {
		if err := s.DB.Delete(ctx, ds.NewKey(k)); err != nil {
			return err
		}
	}

	return nil
}

type LevelRenderStore struct {
	DB *dslvl.Datastore
}

func (s *LevelRenderStore) Create(ctx context.Context, info model.RenderInfo) (model.Render, error) {
	render := model.Render{
		ID:         uuid.New(),
		RenderInfo: info,
		CreatedAt:  time.Now(),
	}

	err := put(ctx, s.DB, childKey(rendersPrefix, render.ID.String()), render)
	if err != nil {
		return model.Render{}, err
	}

	return render, nil
}

func (s *LevelRenderStore) List(ctx context.Context) ([]model.Render, error) {
	renders := make([]model.Render, 0)
	err := all(ctx, s.DB, rendersPrefix, func(_ string, b []byte) error {
		var r model.Render
		if err := json.Unmarshal(b, &r); err != nil {
			return err
		}
		renders = append(renders, r)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(renders, func(i, j int) bool {
		return renders[i].CreatedAt.Before(renders[j].CreatedAt)
	})

	return renders, nil
}

func (s *LevelRenderStore) Read(ctx context.Context, id uuid.UUID) (*model.Render, error) {
	var render model.Render
	if err := get(ctx, s.DB, childKey(rendersPrefix, id.String()), &render); err != nil {
		return nil, err
	}

	return &render, nil
}

func (s *LevelRenderStore) Update(ctx context.Context, id uuid.UUID, info model.RenderInfo) (model.Render, error) {
	render, err := s.Read(ctx, id)
	if err != nil {
		return model.Render{}, err
	}

	render.RenderInfo = info
	if err := put(ctx, s.DB, childKey(rendersPrefix, id.String()), render); err != nil {
		return model.Render{}, err
	}

	return *render, nil
}

func (s *LevelRenderStore) Delete(ctx context.Context, id uuid.UUID) error {
	return s.DB.Delete(ctx, childKey(rendersPrefix, id.String()))
}
