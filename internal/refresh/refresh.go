// Package refresh keeps the hottest cache entries warm on a schedule.
package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/forecast-enhancer/internal/models"
	"github.com/kjstillabower/forecast-enhancer/internal/observability"
	"github.com/kjstillabower/forecast-enhancer/internal/service"
)

// DefaultInterval is used when Config.Interval is unset.
const DefaultInterval = 10 * time.Minute

// Enhancer is the part of service.EnhancementService the driver needs.
type Enhancer interface {
	Enhance(ctx context.Context, lat, lon float64, opts service.Options) (models.EnhancedForecast, error)
}

// Config holds refresh settings.
type Config struct {
	Interval time.Duration
	// RunTimeout bounds a whole run. Zero means the interval.
	RunTimeout  time.Duration
	Concurrency int
	Flagship    *models.LocationKey
	Popular     []models.LocationKey
}

// RunReport summarizes one refresh run.
type RunReport struct {
	Started   time.Time         `json:"started"`
	Duration  time.Duration     `json:"durationNs"`
	Refreshed int               `json:"refreshed"`
	Failed    int               `json:"failed"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// Driver force-refreshes the flagship and popular locations on a fixed interval.
type Driver struct {
	enhancer Enhancer
	cfg      Config
	logger   *zap.Logger
	cron     *cron.Cron

	mu   sync.Mutex
	last *RunReport
}

// NewDriver builds a driver. Nothing runs until Start.
func NewDriver(enhancer Enhancer, cfg Config, logger *zap.Logger) *Driver {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = cfg.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	logger = observability.OrNop(logger).With(zap.String("component", "refresh"))
	cl := cronLogger{s: logger.Sugar()}
	return &Driver{
		enhancer: enhancer,
		cfg:      cfg,
		logger:   logger,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
}

// Start schedules the refresh job.
func (d *Driver) Start() error {
	spec := fmt.Sprintf("@every %s", d.cfg.Interval)
	if _, err := d.cron.AddFunc(spec, d.scheduledRun); err != nil {
		return fmt.Errorf("schedule refresh %q: %w", spec, err)
	}
	d.cron.Start()
	d.logger.Info("refresh scheduled", zap.Duration("interval", d.cfg.Interval),
		zap.Int("locations", len(d.locations())))
	return nil
}

// Stop halts scheduling and waits for a running job, bounded by ctx.
func (d *Driver) Stop(ctx context.Context) {
	done := d.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		d.logger.Warn("refresh still running at shutdown")
	}
}

// LastRun returns the most recent report, if any.
func (d *Driver) LastRun() (RunReport, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return RunReport{}, false
	}
	return *d.last, true
}

func (d *Driver) scheduledRun() {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.RunTimeout)
	defer cancel()
	d.RunOnce(ctx)
}

// RunOnce refreshes every configured location concurrently. Failures are
// logged and counted; they never propagate.
func (d *Driver) RunOnce(ctx context.Context) RunReport {
	return d.run(ctx, d.locations())
}

// RefreshFlagship regenerates only the flagship entry. It matches
// analysis.PromotionHook so a newly promoted backend shows up immediately.
func (d *Driver) RefreshFlagship(ctx context.Context, backendID string) {
	if d.cfg.Flagship == nil {
		return
	}
	d.logger.Info("refreshing flagship after promotion", zap.String("backend", backendID))
	d.run(ctx, []models.LocationKey{*d.cfg.Flagship})
}

func (d *Driver) run(ctx context.Context, locs []models.LocationKey) RunReport {
	report := RunReport{Started: time.Now().UTC()}
	if len(locs) == 0 {
		return report
	}
	observability.RefreshRunsTotal.Inc()

	opts := service.DefaultOptions()
	opts.ForceRefresh = true

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for _, loc := range locs {
		g.Go(func() error {
			err := d.refreshOne(gctx, loc, opts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				if report.Errors == nil {
					report.Errors = make(map[string]string)
				}
				report.Errors[loc.String()] = err.Error()
				observability.RefreshErrorsTotal.Inc()
				d.logger.Warn("refresh failed", zap.String("location", loc.String()), zap.Error(err))
				return nil
			}
			report.Refreshed++
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(report.Started)
	observability.RefreshDurationSecs.Observe(report.Duration.Seconds())
	d.logger.Info("refresh completed",
		zap.Int("refreshed", report.Refreshed),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration))

	d.mu.Lock()
	d.last = &report
	d.mu.Unlock()
	return report
}

// refreshOne turns a panic into an error; the goroutine is outside cron's recover.
func (d *Driver) refreshOne(ctx context.Context, loc models.LocationKey, opts service.Options) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	opts.Altitude = loc.Altitude
	_, err = d.enhancer.Enhance(ctx, loc.Lat, loc.Lon, opts)
	return err
}

// locations returns flagship first, then popular, without duplicates.
func (d *Driver) locations() []models.LocationKey {
	var out []models.LocationKey
	seen := make(map[string]bool)
	add := func(k models.LocationKey) {
		if seen[k.String()] {
			return
		}
		seen[k.String()] = true
		out = append(out, k)
	}
	if d.cfg.Flagship != nil {
		add(*d.cfg.Flagship)
	}
	for _, p := range d.cfg.Popular {
		add(p)
	}
	return out
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
