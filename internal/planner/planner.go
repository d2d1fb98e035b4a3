package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/eugenenazirov/stamp-calculator/internal/cache"
	"github.com/eugenenazirov/stamp-calculator/internal/calculator"
	"github.com/eugenenazirov/stamp-calculator/internal/domain"
	"github.com/eugenenazirov/stamp-calculator/internal/storage"
)

// DefaultSearchTimeout bounds how long a caller waits for one search.
const DefaultSearchTimeout = 5 * time.Second

var (
	// ErrTargetRequired is returned when a query names neither a target nor a rate.
	ErrTargetRequired = fmt.Errorf("%w: either target or rate is required", calculator.ErrInvalidRequest)
	// ErrAmbiguousTarget is returned when a query names both a target and a rate.
	ErrAmbiguousTarget = fmt.Errorf("%w: target and rate are mutually exclusive", calculator.ErrInvalidRequest)
	// ErrSearchTimeout is returned when a search outlives the configured timeout.
	ErrSearchTimeout = errors.New("combination search timed out")
)

// Query asks for combinations covering either an explicit target or a stored postage rate.
type Query struct {
	Target     decimal.NullDecimal
	RateName   string
	MaxStamps  int
	MaxOverpay decimal.NullDecimal
}

// Outcome is a search result together with how it was produced.
type Outcome struct {
	Request  calculator.Request
	Rate     *domain.PostageRate
	Result   calculator.Result
	Cached   bool
	Duration time.Duration
}

// Planner runs searches against the current inventory.
type Planner struct {
	store   storage.Storage
	calc    calculator.Calculator
	cache   cache.Cache
	logger  *zap.Logger
	timeout time.Duration
	clock   func() time.Time
	group   singleflight.Group
}

// Option configures a Planner.
type Option func(*Planner)

// WithCache stores results in c. Without it nothing is cached.
func WithCache(c cache.Cache) Option {
	return func(p *Planner) {
		if c != nil {
			p.cache = c
		}
	}
}

// WithSearchTimeout overrides DefaultSearchTimeout. Zero or negative disables the timeout.
func WithSearchTimeout(d time.Duration) Option {
	return func(p *Planner) {
		p.timeout = d
	}
}

// WithClock overrides the clock used to measure search duration.
func WithClock(clock func() time.Time) Option {
	return func(p *Planner) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// New builds a Planner. logger may be nil.
func New(store storage.Storage, calc calculator.Calculator, logger *zap.Logger, opts ...Option) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Planner{
		store:   store,
		calc:    calc,
		cache:   cache.Nop{},
		logger:  logger,
		timeout: DefaultSearchTimeout,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FindCombinations resolves the query target, then returns a cached result or runs the search.
// Identical concurrent searches share one run of the calculator.
func (p *Planner) FindCombinations(ctx context.Context, q Query) (Outcome, error) {
	start := p.clock()

	req, rate, err := p.resolve(ctx, q)
	if err != nil {
		return Outcome{}, err
	}

	stamps, err := p.store.ListStamps(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to load inventory: %w", err)
	}

	key := cache.Key(stamps, req)
	out := Outcome{Request: req, Rate: rate}

	cached, err := p.cache.Get(ctx, key)
	switch {
	case err == nil:
		out.Result = cached
		out.Cached = true
		out.Duration = p.clock().Sub(start)
		p.logOutcome(out)
		return out, nil
	case !errors.Is(err, cache.ErrCacheMiss):
		p.logger.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
	}

	result, err := p.search(ctx, key, stamps, req)
	if err != nil {
		return Outcome{}, err
	}

	if err := p.cache.Set(ctx, key, result); err != nil {
		p.logger.Warn("cache store failed", zap.String("key", key), zap.Error(err))
	}

	out.Result = result
	out.Duration = p.clock().Sub(start)
	p.logOutcome(out)
	return out, nil
}

func (p *Planner) resolve(ctx context.Context, q Query) (calculator.Request, *domain.PostageRate, error) {
	req := calculator.Request{MaxStamps: q.MaxStamps, MaxOverpay: q.MaxOverpay}

	switch {
	case q.Target.Valid && q.RateName != "":
		return calculator.Request{}, nil, ErrAmbiguousTarget
	case q.Target.Valid:
		req.Target = q.Target.Decimal
		return req, nil, nil
	case q.RateName != "":
		rate, err := p.store.GetRate(ctx, q.RateName)
		if err != nil {
			return calculator.Request{}, nil, fmt.Errorf("failed to resolve rate %q: %w", q.RateName, err)
		}
		req.Target = rate.Rate
		return req, &rate, nil
	default:
		return calculator.Request{}, nil, ErrTargetRequired
	}
}

// search runs the calculator once per key. A caller that gives up on a slow
// search leaves it running; the calculator's caps bound how long that lasts.
func (p *Planner) search(ctx context.Context, key string, stamps []domain.Stamp, req calculator.Request) (calculator.Result, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	ch := p.group.DoChan(key, func() (any, error) {
		return p.calc.FindCombinations(stamps, req)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return calculator.Result{}, res.Err
		}
		return res.Val.(calculator.Result), nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			p.logger.Warn("combination search timed out",
				zap.String("target", req.Target.String()),
				zap.Duration("timeout", p.timeout),
			)
			return calculator.Result{}, fmt.Errorf("%w after %s", ErrSearchTimeout, p.timeout)
		}
		return calculator.Result{}, ctx.Err()
	}
}

func (p *Planner) logOutcome(out Outcome) {
	fields := []zap.Field{
		zap.String("target", out.Request.Target.String()),
		zap.String("max_overpay", out.Request.Overpay().String()),
		zap.Int("max_stamps", out.Request.MaxLength()),
		zap.Int("accepted", out.Result.Accepted),
		zap.Int("returned", len(out.Result.Combinations)),
		zap.Bool("incomplete", out.Result.Incomplete),
		zap.Bool("cached", out.Cached),
		zap.Duration("duration", out.Duration),
	}
	if out.Rate != nil {
		fields = append(fields, zap.String("rate", out.Rate.Name))
	}
	p.logger.Info("combination search finished", fields...)
}
