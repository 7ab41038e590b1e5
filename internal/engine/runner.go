package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/khanhnv2901/tlsinspect/internal/scoring"
	apperrors "github.com/khanhnv2901/tlsinspect/internal/shared/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Inspector is what the Runner drives. *Engine satisfies it.
type Inspector interface {
	Inspect(ctx context.Context, req Request) (*scoring.Verdict, error)
}

// Result is the outcome of one target.
type Result struct {
	Target   Target           `json:"target" yaml:"target"`
	Verdict  *scoring.Verdict `json:"verdict,omitempty" yaml:"verdict,omitempty"`
	Err      error            `json:"-" yaml:"-"`
	Error    string           `json:"error,omitempty" yaml:"error,omitempty"`
	Kind     string           `json:"kind,omitempty" yaml:"kind,omitempty"`
	Duration time.Duration    `json:"duration_ns" yaml:"duration_ns"`
}

// ResultFunc is called once per finished target, from the worker goroutine.
type ResultFunc func(Result)

// Runner orchestrates inspections with bounded concurrency and a global rate
// limit.
type Runner struct {
	Concurrency int           // maximum concurrent inspections
	RateLimit   int           // inspections started per second; 0 means unlimited
	Timeout     time.Duration // per-inspection probe timeout
	Logger      *zap.Logger
}

// Validate checks the runner settings.
func (r *Runner) Validate() error {
	if r.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1", apperrors.ErrInvalidRunnerConfig)
	}
	if r.RateLimit < 0 {
		return fmt.Errorf("%w: rate limit must not be negative", apperrors.ErrInvalidRunnerConfig)
	}
	if r.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", apperrors.ErrInvalidRunnerConfig)
	}
	return nil
}

// Run inspects every target once. Results come back in input order. A
// failing or panicking inspection only affects its own Result.
func (r *Runner) Run(ctx context.Context, inspector Inspector, targets []Target, onResult ResultFunc) []Result {
	limit := rate.Inf
	burst := 1
	if r.RateLimit > 0 {
		limit = rate.Limit(r.RateLimit)
		burst = r.RateLimit
	}
	limiter := rate.NewLimiter(limit, burst)

	concurrency := r.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)

	results := make([]Result, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		// Acquire before spawning so goroutines stay bounded by concurrency.
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, t Target) {
			defer wg.Done()
			defer func() { <-sem }()

			res := r.inspectOne(ctx, limiter, inspector, t)
			results[i] = res
			if onResult != nil {
				onResult(res)
			}
		}(i, target)
	}

	wg.Wait()
	return results
}

func (r *Runner) inspectOne(ctx context.Context, limiter *rate.Limiter, inspector Inspector, t Target) (res Result) {
	res.Target = t
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			res.Verdict = nil
			res.Err = fmt.Errorf("inspection of %s panicked: %v", t, rec)
			r.logger().Error("inspection panicked", zap.String("target", t.String()), zap.Any("panic", rec))
		}
		res.Duration = time.Since(start)
		if res.Err != nil {
			res.Error = res.Err.Error()
			res.Kind = ErrorKind(res.Err)
		}
	}()

	if err := limiter.Wait(ctx); err != nil {
		res.Err = err
		return res
	}

	res.Verdict, res.Err = inspector.Inspect(ctx, Request{Hostname: t.Hostname, Port: t.Port, Timeout: r.Timeout})
	return res
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}
