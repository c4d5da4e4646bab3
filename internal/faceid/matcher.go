package faceid

import (
	"context"
	"iter"
	"sync"

	"github.com/andresmejia3/checkmates/internal/types"
	"go.uber.org/zap"
)

// DefaultAcceptThreshold is the minimum similarity for a gallery entry to be accepted.
const DefaultAcceptThreshold = 0.45

// EntryEmbedder resolves the embedding of a gallery entry.
type EntryEmbedder interface {
	EntryEmbedding(ctx context.Context, entry types.GalleryEntry) (types.Embedding, error)
}

// Matcher runs an exhaustive linear scan of the gallery against a probe.
//
// Extraction is spread over several goroutines, but candidates are accepted in
// strict enumeration order: an entry replaces the current best only when
// score > best && score > threshold. On a tie the first enumerated entry wins.
// Since enumeration order is whatever the blob store returns, tie outcomes may
// differ between backends.
type Matcher struct {
	embedder  EntryEmbedder
	threshold float64
	workers   int
	log       *zap.Logger
}

// NewMatcher creates a Matcher. workers < 1 is treated as 1.
func NewMatcher(embedder EntryEmbedder, threshold float64, workers int, log *zap.Logger) *Matcher {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Matcher{embedder: embedder, threshold: threshold, workers: workers, log: log}
}

// Threshold returns the acceptance threshold in use.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

type scanTask struct {
	index int
	entry types.GalleryEntry
}

type scanResult struct {
	index   int
	key     string
	score   float64
	skipped bool
}

// Match returns the best accepted identity for probe or ErrNoMatch. An absent
// probe returns ErrNoMatch without scanning. Entries whose embedding cannot be
// extracted are skipped. Enumeration failures abort the scan.
func (m *Matcher) Match(ctx context.Context, probe types.Embedding, entries iter.Seq2[types.GalleryEntry, error]) (types.Match, error) {
	if len(probe) == 0 {
		return types.Match{}, ErrNoMatch
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tasks := make(chan scanTask, m.workers)
	results := make(chan scanResult, m.workers*2)
	listErr := make(chan error, 1)

	var wg sync.WaitGroup
	for i := 0; i < m.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range tasks {
				results <- m.score(ctx, probe, task)
			}
		}()
	}

	// Producer: feeds entries in enumeration order
	go func() {
		defer close(tasks)
		idx := 0
		for entry, err := range entries {
			if err != nil {
				listErr <- err
				return
			}
			select {
			case tasks <- scanTask{index: idx, entry: entry}:
			case <-ctx.Done():
				return
			}
			idx++
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	// Re-order buffer: a later entry may finish before an earlier one
	buffer := make(map[int]scanResult)
	next := 0
	var best types.Match
	found := false
	scanned := 0

	for res := range results {
		buffer[res.index] = res
		for {
			r, ok := buffer[next]
			if !ok {
				break
			}
			delete(buffer, next)
			next++
			scanned++

			if r.skipped {
				continue
			}
			if r.score > best.Score && r.score > m.threshold {
				best = types.Match{Key: r.key, Score: r.score}
				found = true
			}
		}
	}

	select {
	case err := <-listErr:
		return types.Match{}, err
	default:
	}
	if err := ctx.Err(); err != nil {
		return types.Match{}, err
	}

	m.log.Debug("gallery scan complete", zap.Int("entries", scanned), zap.Bool("matched", found))
	if !found {
		return types.Match{}, ErrNoMatch
	}
	return best, nil
}

func (m *Matcher) score(ctx context.Context, probe types.Embedding, task scanTask) scanResult {
	res := scanResult{index: task.index, key: task.entry.Key}
	if ctx.Err() != nil {
		res.skipped = true
		return res
	}

	vec, err := m.embedder.EntryEmbedding(ctx, task.entry)
	if err != nil {
		m.log.Warn("skipping gallery entry", zap.String("key", task.entry.Key), zap.String("blob", task.entry.Name), zap.Error(err))
		res.skipped = true
		return res
	}

	res.score = Score(probe, vec)
	m.log.Debug("compared gallery entry",
		zap.String("key", task.entry.Key),
		zap.String("blob", task.entry.Name),
		zap.Float64("similarity", res.score),
	)
	return res
}
