package loader

import (
	"context"
	"io"

	"golang.org/x/sync/errgroup"
)

// loadParallel reads ChunkSize lines at a time, maps the chunk across
// Workers goroutines into indexed slots, then folds the slots in source
// order. Failures are therefore seen in the same order as a sequential load.
func (l *Loader) loadParallel(ctx context.Context, src io.Reader, res *Result) error {
	chunk := make([]line, 0, l.opts.ChunkSize)
	slots := make([]RowResult, l.opts.ChunkSize)

	flush := func() (bool, error) {
		if len(chunk) == 0 {
			return false, nil
		}
		if err := l.mapChunk(ctx, chunk, slots[:len(chunk)]); err != nil {
			return true, err
		}
		for i := range chunk {
			if stop, err := l.collect(res, slots[i]); stop {
				return true, err
			}
		}
		chunk = chunk[:0]
		return false, nil
	}

	for ln := range lines(src) {
		chunk = append(chunk, ln)
		if len(chunk) < l.opts.ChunkSize {
			continue
		}
		if stop, err := flush(); stop {
			return err
		}
	}
	_, err := flush()
	return err
}

func (l *Loader) mapChunk(ctx context.Context, chunk []line, out []RowResult) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Workers)

	per := (len(chunk) + l.opts.Workers - 1) / l.opts.Workers
	for start := 0; start < len(chunk); start += per {
		end := min(start+per, len(chunk))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if (i-start)%ContextCheckInterval == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				out[i] = l.mapLine(chunk[i])
			}
			return nil
		})
	}
	return g.Wait()
}
