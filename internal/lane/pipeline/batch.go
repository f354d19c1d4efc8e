package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/huyhung411991/PINetTensorRT/internal/lane"
	"github.com/huyhung411991/PINetTensorRT/internal/lane/l1frames"
)

// FrameResult is the decode outcome of one frame in a batch.
type FrameResult struct {
	Name  string
	Lanes lane.LaneSet
	Stats lane.Stats
	Err   error
}

// DecodeBatch decodes frames on at most workers goroutines (workers < 1
// means one). Results are in input order. A frame that fails to decode
// records its error in FrameResult.Err and does not stop the batch; the
// returned error is non-nil only when ctx is cancelled, in which case
// frames not yet started carry ctx's error.
func (d *Decoder) DecodeBatch(ctx context.Context, frames []*l1frames.Frame, workers int) ([]FrameResult, error) {
	if workers < 1 {
		workers = 1
	}
	results := make([]FrameResult, len(frames))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for idx, f := range frames {
		results[idx].Name = f.Name
		if err := gctx.Err(); err != nil {
			results[idx].Err = err
			continue
		}
		idx, f := idx, f // per-iteration copies (go directive is < 1.22)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[idx].Err = err
				return err
			}
			ls, stats, err := d.DecodeFrame(f)
			results[idx].Lanes = ls
			results[idx].Stats = stats
			results[idx].Err = err
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}
