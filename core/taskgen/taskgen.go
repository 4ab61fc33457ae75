// Package taskgen splits a job's frame range into bounded tasks.
package taskgen

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pyropy/renderfarm/core/model"
)

const maxPrealloc = 1024

var (
	ErrInvalidChunkSize = errors.New("chunk size must be positive")
)

// GenerateTasks partitions the job's frames into consecutive blocks of at most
// chunkSize frames. Blocks are returned in frame order, never overlap and
// together cover the job's range exactly. A single frame job always yields one
// task covering that frame.
func GenerateTasks(job model.Job, fileName string, chunkSize int, requestor peer.ID) ([]model.Task, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChunkSize, chunkSize)
	}

	if err := job.Mode.Validate(); err != nil {
		return nil, err
	}

	start, end := job.Mode.Range()
	if end == start {
		if start == math.MaxInt {
			return nil, fmt.Errorf("%w: frame %d", model.ErrInvalidRange, start)
		}
		end = start + 1
	}

	// spans are measured unsigned so that ranges near the int limits
	// cannot overflow
	span := uint(end) - uint(start)
	count := span / uint(chunkSize)
	if span%uint(chunkSize) != 0 {
		count++
	}

	tasks := make([]model.Task, 0, min(count, maxPrealloc))
	for blockStart := start; blockStart < end; {
		size := chunkSize
		if rest := uint(end) - uint(blockStart); rest < uint(chunkSize) {
			size = int(rest)
		}

		tasks = append(tasks, model.Task{
			ID:        uuid.New(),
			JobID:     job.ID,
			Requestor: requestor,
			FileName:  fileName,
			Version:   job.Version,
			Range: model.Range{
				Start: blockStart,
				End:   blockStart + size,
			},
		})
		blockStart += size
	}

	return tasks, nil
}
