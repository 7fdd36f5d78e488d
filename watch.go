package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/RunningShrimp/vm-sub001/internal/metrics"
	"github.com/RunningShrimp/vm-sub001/internal/pipeline"
	"github.com/RunningShrimp/vm-sub001/internal/xlog"
)

var log = xlog.Get("cli")

// settleDelay is how long a file must stay quiet before it is retranslated
const settleDelay = 300 * time.Millisecond

// debouncer coalesces bursts of change events per path
type debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	pending map[string]*time.Timer
	fire    func(string)
}

func newDebouncer(delay time.Duration, fire func(string)) *debouncer {
	return &debouncer{delay: delay, pending: make(map[string]*time.Timer), fire: fire}
}

func (d *debouncer) trigger(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.pending[path]; ok {
		t.Stop()
	}
	d.pending[path] = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		delete(d.pending, path)
		d.mu.Unlock()
		d.fire(path)
	})
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for path, t := range d.pending {
		t.Stop()
		delete(d.pending, path)
	}
}

// serveMetrics exposes the statistics of p until the returned func is called
func serveMetrics(addr string, p *pipeline.Pipeline) (func(), error) {
	h, err := metrics.Handler(p)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server: %v", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// cmdWatch translates the files and translates them again whenever one
// changes. The pipeline is kept between rounds, so unchanged blocks come
// from the result cache.
func cmdWatch(ctx *CommandContext, files []string) error {
	if len(files) == 0 {
		return errors.New("usage: xlate watch <file>...")
	}
	p := pipeline.New(ctx.Config)

	var mu sync.Mutex
	round := func(changed string) {
		mu.Lock()
		defer mu.Unlock()
		if changed != "" {
			fmt.Fprintf(ctx.Out, "-- %s changed\n", changed)
		}
		before := p.CacheStatistics().Totals
		if err := translateProgram(ctx, p, files); err != nil {
			fmt.Fprint(ctx.Out, formatError(err))
			return
		}
		after := p.CacheStatistics().Totals
		fmt.Fprintf(ctx.Out, "-- %d blocks, %d from cache\n",
			after.Blocks-before.Blocks, after.CachedBlocks-before.CachedBlocks)
	}
	round("")

	if ctx.Metrics != "" {
		stop, err := serveMetrics(ctx.Metrics, p)
		if err != nil {
			return err
		}
		defer stop()
		fmt.Fprintf(ctx.Out, "-- metrics on http://%s/metrics\n", ctx.Metrics)
	}

	w, err := newProgramWatcher(round)
	if err != nil {
		return err
	}
	defer w.close()
	for _, f := range files {
		if err := w.add(f); err != nil {
			return err
		}
	}

	sigctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := w.run(sigctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
