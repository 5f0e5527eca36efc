package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker evaluates a fresh snapshot on an interval and posts the alerts it
// triggers. An alert type that keeps firing is re-sent at most once per
// lookback window.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	now       func() time.Time

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		now:       time.Now,
		lastSent:  make(map[AlertType]time.Time),
	}
}

// Run checks once immediately, then on every tick until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	log := zap.L().With(zap.String("component", "monitoring"))
	log.Info("alert checker started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		c.Check(ctx)
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check runs one collect-evaluate-send cycle and returns the alerts that
// were due for delivery.
func (c *Checker) Check(ctx context.Context) []Alert {
	if ctx.Err() != nil {
		return nil
	}
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		zap.L().Error("monitoring: collect snapshot", zap.Error(err))
		return nil
	}

	due := c.due(c.alerter.Evaluate(snap))
	if len(due) == 0 {
		return nil
	}
	sent := c.alerter.SendAlerts(ctx, due)
	zap.L().Info("monitoring: alerts delivered",
		zap.Int("due", len(due)),
		zap.Int("sent", sent),
		zap.Int("runs", snap.Runs),
	)
	return due
}

// due drops alerts whose type was already sent inside the lookback window,
// and forgets types that stopped firing so a recurrence alerts at once.
func (c *Checker) due(alerts []Alert) []Alert {
	repeat := time.Duration(max(c.cfg.LookbackWindowHours, 1)) * time.Hour
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	firing := make(map[AlertType]bool, len(alerts))
	var out []Alert
	for _, a := range alerts {
		firing[a.Type] = true
		if last, ok := c.lastSent[a.Type]; ok && now.Sub(last) < repeat {
			continue
		}
		c.lastSent[a.Type] = now
		out = append(out, a)
	}
	for t := range c.lastSent {
		if !firing[t] {
			delete(c.lastSent, t)
		}
	}
	return out
}
