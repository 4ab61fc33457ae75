package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// removedRetention bounds how long removed job ids are remembered.
const removedRetention = time.Hour

// StartStatusMonitor publishes Describe on the status topic every
// StatusInterval and forgets removed jobs past their retention.
func (w *Worker) StartStatusMonitor(ctx context.Context) {
	if w.opts.StatusInterval <= 0 {
		return
	}

	ticker := time.NewTicker(w.opts.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.net.PublishStatus(w.Describe())
			w.pruneRemoved(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) pruneRemoved(now time.Time) {
	var expired []uuid.UUID
	w.removed.Range(func(id uuid.UUID, at time.Time) bool {
		if now.Sub(at) > removedRetention {
			expired = append(expired, id)
		}
		return true
	})

	for _, id := range expired {
		w.removed.Delete(id)
	}
}
