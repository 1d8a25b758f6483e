package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/broadcastio/wagateway/pkg/bus"
	"github.com/broadcastio/wagateway/pkg/events"
	"github.com/broadcastio/wagateway/pkg/logger"
	"github.com/broadcastio/wagateway/pkg/session"
)

// SessionView exposes the session snapshot to the reporter.
type SessionView interface {
	Snapshot() session.Snapshot
}

// StatsSource supplies delivery counts.
type StatsSource interface {
	Stats(ctx context.Context) (Stats, error)
}

// Reporter logs and publishes a status summary on a cron schedule.
type Reporter struct {
	expr    string
	session SessionView
	stats   StatsSource
	bus     *bus.MessageBus
	started time.Time
	now     func() time.Time
}

// NewReporter validates expr and builds a reporter. stats and mb may be nil.
func NewReporter(expr string, sv SessionView, stats StatsSource, mb *bus.MessageBus) (*Reporter, error) {
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("invalid status cron expression %q", expr)
	}
	return &Reporter{
		expr:    expr,
		session: sv,
		stats:   stats,
		bus:     mb,
		started: time.Now(),
		now:     time.Now,
	}, nil
}

// Next returns the first tick strictly after t.
func (r *Reporter) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(r.expr, t, false)
}

// Run reports on every tick until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	logger.InfoCF("delivery", "Status reporter started", map[string]interface{}{
		"cron": r.expr,
	})

	for {
		next, err := r.Next(r.now())
		if err != nil {
			logger.ErrorCF("delivery", "Cannot schedule status report", map[string]interface{}{
				"cron":  r.expr,
				"error": err.Error(),
			})
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			r.Report(ctx)
		}
	}
}

// Report builds one status summary, logs it and publishes it.
func (r *Reporter) Report(ctx context.Context) events.SystemEventData {
	snap := r.session.Snapshot()
	data := events.SystemEventData{
		Uptime: int64(r.now().Sub(r.started).Seconds()),
		State:  snap.State.String(),
		Ready:  snap.Ready,
	}

	if r.stats != nil {
		st, err := r.stats.Stats(ctx)
		if err != nil {
			logger.WarnCF("delivery", "Delivery stats unavailable", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			data.Deliveries = st.Total
			data.Failures = st.Failed
		}
	}

	logger.InfoCF("delivery", "Gateway status", map[string]interface{}{
		"state":      data.State,
		"ready":      data.Ready,
		"uptime_s":   data.Uptime,
		"deliveries": data.Deliveries,
		"failures":   data.Failures,
	})

	if r.bus != nil {
		r.bus.PublishSystem(events.New(events.SystemHealth, "delivery", data))
	}
	return data
}
