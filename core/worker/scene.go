package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pyropy/renderfarm/core/model"
	"github.com/pyropy/renderfarm/lib/utils"
)

func sceneKey(task model.Task) string {
	return filepath.Join(task.JobID.String(), filepath.Base(task.FileName))
}

// ensureScene returns a local path holding the task's scene file. Files are
// looked up in the cache index, then in the cache dir, and are otherwise
// requested from the providers of the file with the requesting peer tried
// last. A downloaded file is provided by this peer once it is persisted.
func (w *Worker) ensureScene(ctx context.Context, task model.Task) (string, error) {
	key := sceneKey(task)
	if path, ok := w.scenes.Get(key); ok {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		w.scenes.Remove(key)
	}

	path := filepath.Join(w.opts.CacheDir, key)
	if _, err := os.Stat(path); err == nil {
		w.scenes.Put(key, path)
		w.net.StartProviding(task.FileName, path)
		return path, nil
	}

	providers, err := w.net.GetProviders(ctx, task.FileName)
	if err != nil {
		w.log.Warnw("worker", "event", "provider lookup failed", "file", task.FileName, "error", err)
	}
	if task.Requestor != "" {
		providers = append(utils.Remove(providers, task.Requestor), task.Requestor)
	}

	lastErr := ErrNoProvider
	for _, p := range providers {
		data, err := w.net.RequestFile(ctx, p, task.FileName)
		if err != nil {
			w.log.Debugw("worker", "event", "provider failed", "file", task.FileName, "peer", p, "error", err)
			lastErr = fmt.Errorf("%s: %w", p, err)
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}

		if err := persist(path, data); err != nil {
			return "", err
		}

		w.scenes.Put(key, path)
		w.net.StartProviding(task.FileName, path)
		w.log.Infow("worker", "event", "scene fetched", "file", task.FileName, "peer", p, "size", len(data))
		return path, nil
	}

	return "", lastErr
}

// persist writes data next to path and renames it into place so a partial
// download is never mistaken for a cached file.
func persist(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write scene: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("store scene: %w", err)
	}

	return nil
}
