package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/RunningShrimp/vm-sub001/internal/engine"
	"github.com/RunningShrimp/vm-sub001/internal/isa"
)

const (
	// chunksPerWorker is the number of chunks each worker gets on average
	chunksPerWorker = 4
	maxChunkJobs    = 64
)

// Job is one block for TranslateMany
type Job struct {
	Source       engine.Arch
	Dest         engine.Arch
	Instructions []isa.Instruction
}

// Result is the outcome of one Job; exactly one of Block and Err is set
type Result struct {
	Block *Block
	Err   error
}

// TranslateMany translates jobs on a bounded worker pool and returns the
// results in job order. A failing job does not affect the others. When
// ctx is cancelled no further chunks are started; blocks already being
// translated finish and the remaining jobs report the context error.
func (p *Pipeline) TranslateMany(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))
	workers := p.cfg.WorkerCount()

	var g errgroup.Group
	g.SetLimit(workers)
	submitted := 0
	for _, c := range chunks(jobs, workers) {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			for i := c.start; i < c.end; i++ {
				j := jobs[i]
				results[i].Block, results[i].Err = p.TranslateBlock(ctx, j.Source, j.Dest, j.Instructions)
			}
			return nil
		})
		submitted = c.end
	}
	_ = g.Wait()

	for i := submitted; i < len(jobs); i++ {
		results[i].Err = ctx.Err()
	}
	log.Debugf("pipeline %s: %d jobs on %d workers", p.id, len(jobs), workers)
	return results
}

type chunk struct {
	start, end int
}

// chunks splits jobs into contiguous runs of roughly equal instruction
// count, about chunksPerWorker runs per worker
func chunks(jobs []Job, workers int) []chunk {
	if len(jobs) == 0 {
		return nil
	}
	total := 0
	for _, j := range jobs {
		total += max(1, len(j.Instructions))
	}
	target := max(1, total/(max(1, workers)*chunksPerWorker))

	var out []chunk
	start, weight := 0, 0
	for i, j := range jobs {
		weight += max(1, len(j.Instructions))
		if weight >= target || i+1-start >= maxChunkJobs {
			out = append(out, chunk{start, i + 1})
			start, weight = i+1, 0
		}
	}
	if start < len(jobs) {
		out = append(out, chunk{start, len(jobs)})
	}
	return out
}
