package store

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/test"
	"github.com/pyropy/renderfarm/core/model"
)

func eachStores(t *testing.T, f func(t *testing.T, s *Stores)) {
	t.Run("memory", func(t *testing.T) {
		f(t, NewMemoryStores())
	})
	t.Run("leveldb", func(t *testing.T) {
		s, err := Open(t.TempDir())
		if err != nil {
			t.Fatalf("open leveldb: %v", err)
		}
		defer s.Close()

		f(t, s)
	})
}

func TestJobStore(t *testing.T) {
	eachStores(t, func(t *testing.T, s *Stores) {
		ctx := context.Background()
		job := model.NewJob("/scenes/a.blend", "/out", model.Animation(1, 10), "4.1")

		if err := s.Jobs.Update(ctx, job); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound updating missing job, got %v", err)
		}
		if err := s.Jobs.Add(ctx, job); err != nil {
			t.Fatalf("add: %v", err)
		}

		job.OutputDir = "/out2"
		if err := s.Jobs.Update(ctx, job); err != nil {
			t.Fatalf("update: %v", err)
		}

		jobs, err := s.Jobs.ListAll(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(jobs) != 1 || jobs[0].OutputDir != "/out2" || jobs[0].Mode != job.Mode {
			t.Fatalf("unexpected jobs %+v", jobs)
		}

		if err := s.Jobs.Delete(ctx, job.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		jobs, _ = s.Jobs.ListAll(ctx)
		if len(jobs) != 0 {
			t.Fatalf("expected no jobs after delete, got %d", len(jobs))
		}
	})
}

func TestTaskStoreOrder(t *testing.T) {
	eachStores(t, func(t *testing.T, s *Stores) {
		ctx := context.Background()
		jobA, jobB := uuid.New(), uuid.New()

		next, err := s.Tasks.PollNext(ctx)
		if err != nil || next != nil {
			t.Fatalf("expected empty store, got %+v (%v)", next, err)
		}

		tasks := []model.Task{
			{ID: uuid.New(), JobID: jobA, Range: model.Range{Start: 1, End: 4}},
			{ID: uuid.New(), JobID: jobB, Range: model.Range{Start: 1, End: 2}},
			{ID: uuid.New(), JobID: jobA, Range: model.Range{Start: 4, End: 7}},
		}
		for _, task := range tasks {
			if err := s.Tasks.Add(ctx, task); err != nil {
				t.Fatalf("add: %v", err)
			}
		}

		next, err = s.Tasks.PollNext(ctx)
		if err != nil || next == nil || next.ID != tasks[0].ID {
			t.Fatalf("expected first task, got %+v (%v)", next, err)
		}

		// poll does not consume
		again, _ := s.Tasks.PollNext(ctx)
		if again == nil || again.ID != tasks[0].ID {
			t.Fatalf("expected poll to be repeatable, got %+v", again)
		}

		if err := s.Tasks.Delete(ctx, tasks[0].ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		next, _ = s.Tasks.PollNext(ctx)
		if next == nil || next.ID != tasks[1].ID {
			t.Fatalf("expected second task, got %+v", next)
		}

		if err := s.Tasks.DeleteForJob(ctx, jobB); err != nil {
			t.Fatalf("delete for job: %v", err)
		}
		next, _ = s.Tasks.PollNext(ctx)
		if next == nil || next.ID != tasks[2].ID {
			t.Fatalf("expected third task, got %+v", next)
		}
	})
}

func TestLevelTaskStoreSkipsUndecodable(t *testing.T) {
	ctx := context.Background()
	s, err := NewLevelStores(t.TempDir())
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	defer s.Close()

	tasks := s.Tasks.(*LevelTaskStore)
	if err := tasks.DB.Put(ctx, childKey(tasksPrefix, "broken"), []byte("{not json")); err != nil {
		t.Fatalf("put: %v", err)
	}

	task := model.Task{ID: uuid.New(), JobID: uuid.New(), Range: model.Range{Start: 1, End: 2}}
	if err := s.Tasks.Add(ctx, task); err != nil {
		t.Fatalf("add: %v", err)
	}

	next, err := s.Tasks.PollNext(ctx)
	if err != nil || next == nil || next.ID != task.ID {
		t.Fatalf("expected stored task despite broken record, got %+v (%v)", next, err)
	}
}

func TestWorkerStore(t *testing.T) {
	eachStores(t, func(t *testing.T, s *Stores) {
		ctx := context.Background()
		a := model.Worker{ID: test.RandPeerIDFatal(t), Spec: model.ComputerSpec{Host: "a", Cores: 8}}
		b := model.Worker{ID: test.RandPeerIDFatal(t), Spec: model.ComputerSpec{Host: "b", Cores: 4}}

		for _, w := range []model.Worker{a, b} {
			if err := s.Workers.Add(ctx, w); err != nil {
				t.Fatalf("add: %v", err)
			}
		}

		got, err := s.Workers.Get(ctx, a.ID)
		if err != nil || got == nil || got.Spec.Host != "a" {
			t.Fatalf("expected worker a, got %+v (%v)", got, err)
		}

		a.Spec.Cores = 16
		_ = s.Workers.Add(ctx, a)
		got, _ = s.Workers.Get(ctx, a.ID)
		if got.Spec.Cores != 16 {
			t.Fatalf("expected replaced spec, got %+v", got.Spec)
		}

		if err := s.Workers.Delete(ctx, a.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		got, err = s.Workers.Get(ctx, a.ID)
		if err != nil || got != nil {
			t.Fatalf("expected no worker after delete, got %+v (%v)", got, err)
		}

		if err := s.Workers.Clear(ctx); err != nil {
			t.Fatalf("clear: %v", err)
		}
		workers, _ := s.Workers.ListAll(ctx)
		if len(workers) != 0 {
			t.Fatalf("expected no workers after clear, got %d", len(workers))
		}
	})
}

func TestRenderStore(t *testing.T) {
	eachStores(t, func(t *testing.T, s *Stores) {
		ctx := context.Background()
		jobID := uuid.New()

		r, err := s.Renders.Create(ctx, model.RenderInfo{JobID: jobID, Frame: 1, Path: "/out/1.png"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}

		read, err := s.Renders.Read(ctx, r.ID)
		if err != nil || read.Path != "/out/1.png" || read.JobID != jobID {
			t.Fatalf("unexpected read %+v (%v)", read, err)
		}

		updated, err := s.Renders.Update(ctx, r.ID, model.RenderInfo{JobID: jobID, Frame: 1, Path: "/out/final/1.png"})
		if err != nil || updated.Path != "/out/final/1.png" {
			t.Fatalf("unexpected update %+v (%v)", updated, err)
		}

		list, err := s.Renders.List(ctx)
		if err != nil || len(list) != 1 {
			t.Fatalf("expected one render, got %d (%v)", len(list), err)
		}

		if err := s.Renders.Delete(ctx, r.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := s.Renders.Read(ctx, r.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := s.Renders.Update(ctx, r.ID, model.RenderInfo{}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound updating deleted render, got %v", err)
		}
	})
}
