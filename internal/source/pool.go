// internal/source/pool.go
package source

import (
	"errors"

	"github.com/charmbracelet/log"
)

// ErrPoolClosed indicates a job was submitted after Close.
var ErrPoolClosed = errors.New("fill pool is closed")

// FillPool is a fixed-size worker pool shared by every BufferedSource in
// the process. Fill jobs decode and resample, so they must never run on
// the audio callback; the pool keeps them on a known set of threads.
type FillPool struct {
	jobs   chan func()
	closed chan struct{}
}

// NewFillPool creates a pool with the given number of workers (minimum 1).
func NewFillPool(workers int) *FillPool {
	if workers < 1 {
		workers = 1
	}
	p := &FillPool{
		jobs:   make(chan func(), workers*4),
		closed: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		worker := log.With("worker", i, "component", "buffer-fill")
		go func() {
			for job := range p.jobs {
				runJob(worker, job)
			}
		}()
	}
	return p
}

// runJob isolates a single job so a panic kills the job, not the worker.
func runJob(worker *log.Logger, job func()) {
	defer func() {
		if r := recover(); r != nil {
			worker.Error("fill job panic", "panic", r)
		}
	}()
	job()
}

// Spawn submits a one-shot job. Blocks when all workers are busy and the
// queue is full, which is acceptable back-pressure for fill producers.
// A send racing Close is reported as ErrPoolClosed rather than panicking.
func (p *FillPool) Spawn(job func()) (err error) {
	defer func() {
		if recover() != nil {
			err = ErrPoolClosed
		}
	}()
	select {
	case <-p.closed:
		return ErrPoolClosed
	default:
	}
	p.jobs <- job
	return nil
}

// Close stops accepting jobs and lets workers drain and exit.
func (p *FillPool) Close() {
	select {
	case <-p.closed:
		return
	default:
	}
	close(p.closed)
	close(p.jobs)
}
