package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/khanhnv2901/tlsinspect/internal/engine"
)

// progressPrinter redraws a single status line on w while a batch runs.
type progressPrinter struct {
	w        io.Writer
	total    int
	mu       sync.Mutex
	graded   int
	failed   int
	elapsed  time.Duration
	updates  chan struct{}
	done     chan struct{}
	stopped  chan struct{}
	started  bool
	stopOnce sync.Once
}

func newProgressPrinter(w io.Writer, total int) *progressPrinter {
	if total <= 0 {
		total = 1
	}
	return &progressPrinter{
		w:       w,
		total:   total,
		updates: make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (p *progressPrinter) Start() {
	p.started = true
	go p.loop()
}

// Observe is an engine.ResultFunc.
func (p *progressPrinter) Observe(res engine.Result) {
	p.mu.Lock()
	if res.Err != nil {
		p.failed++
	} else {
		p.graded++
	}
	p.elapsed += res.Duration
	p.mu.Unlock()

	select {
	case p.updates <- struct{}{}:
	default:
	}
}

// Stop prints the final line and returns once the redraw loop has exited.
func (p *progressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		if p.started {
			<-p.stopped
		}
		fmt.Fprintf(p.w, "\r%s\r", strings.Repeat(" ", 80))
		p.print()
		fmt.Fprintln(p.w)
	})
}

func (p *progressPrinter) loop() {
	defer close(p.stopped)
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.updates:
			p.print()
		case <-ticker.C:
			p.print()
		case <-p.done:
			return
		}
	}
}

func (p *progressPrinter) print() {
	p.mu.Lock()
	graded, failed, elapsed := p.graded, p.failed, p.elapsed
	p.mu.Unlock()

	completed := graded + failed
	percent := float64(completed) / float64(p.total) * 100
	avg := 0.0
	if completed > 0 {
		avg = elapsed.Seconds() / float64(completed)
	}

	fmt.Fprintf(p.w, "\r[inspect] %d/%d (%.1f%%) graded:%d failed:%d avg:%.2fs",
		completed, p.total, percent, graded, failed, avg)
}
