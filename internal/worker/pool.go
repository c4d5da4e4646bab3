package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/andresmejia3/checkmates/internal/types"
	"go.uber.org/zap"
)

// Pool shares a fixed set of model processes between concurrent callers.
type Pool struct {
	idle  chan *PythonWorker
	spawn func(id int) (*PythonWorker, error)
	log   *zap.Logger

	mu     sync.Mutex
	live   map[*PythonWorker]struct{}
	nextID int
}

// NewPool starts n workers. All workers are stopped if any fails to start.
func NewPool(n int, cfg Config, log *zap.Logger) (*Pool, error) {
	if n < 1 {
		n = 1
	}
	spawn := func(id int) (*PythonWorker, error) { return NewPythonWorker(id, cfg) }

	workers := make([]*PythonWorker, 0, n)
	for i := 0; i < n; i++ {
		w, err := spawn(i)
		if err != nil {
			for _, started := range workers {
				started.Close()
			}
			return nil, err
		}
		workers = append(workers, w)
	}
	return newPool(workers, spawn, log), nil
}

func newPool(workers []*PythonWorker, spawn func(int) (*PythonWorker, error), log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pool{
		idle:   make(chan *PythonWorker, len(workers)),
		spawn:  spawn,
		log:    log,
		live:   make(map[*PythonWorker]struct{}, len(workers)),
		nextID: len(workers),
	}
	for _, w := range workers {
		p.live[w] = struct{}{}
		p.idle <- w
	}
	return p
}

// Size returns the number of worker slots.
func (p *Pool) Size() int {
	return cap(p.idle)
}

// DetectFaces runs the image on the next free worker.
func (p *Pool) DetectFaces(ctx context.Context, image []byte) ([]types.FaceResult, error) {
	var w *PythonWorker
	select {
	case w = <-p.idle:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer p.release(w)

	faces, err := w.DetectFaces(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("worker %d: %w", w.ID, err)
	}
	return faces, nil
}

// release returns w to the pool, swapping in a fresh process if w broke.
// If the replacement cannot start the broken worker is kept so the slot is not lost.
func (p *Pool) release(w *PythonWorker) {
	if !w.Broken() || p.spawn == nil {
		p.idle <- w
		return
	}

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.mu.Unlock()

	fresh, err := p.spawn(id)
	if err != nil {
		p.log.Error("failed to restart worker", zap.Int("worker", w.ID), zap.Error(err))
		p.idle <- w
		return
	}

	p.log.Warn("restarted broken worker", zap.Int("old", w.ID), zap.Int("new", fresh.ID))
	p.mu.Lock()
	delete(p.live, w)
	p.live[fresh] = struct{}{}
	p.mu.Unlock()
	w.Close()
	p.idle <- fresh
}

// Close stops every worker process.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for w := range p.live {
		w.Close()
	}
	p.live = map[*PythonWorker]struct{}{}
}
