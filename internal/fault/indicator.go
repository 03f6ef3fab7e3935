package fault

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Output is a single binary indicator, typically an LED.
type Output interface {
	Set(on bool) error
	Close() error
}

// Policy describes the blink pattern: Code fast pulses, a pause, repeated Repeat times.
type Policy struct {
	Fast   time.Duration
	Pause  time.Duration
	Repeat int
}

type Indicator struct {
	out    Output
	policy Policy
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	mu sync.Mutex
	on bool
}

func NewIndicator(out Output, policy Policy, logger *slog.Logger) *Indicator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indicator{
		out:    out,
		policy: policy,
		logger: logger,
		sleep:  sleepContext,
	}
}

// Indicate blinks code and blocks for the whole sequence. It must not be called while
// holding any lock the telemetry pipeline needs. A failing output aborts the sequence,
// a cancelled ctx stops it early.
func (i *Indicator) Indicate(ctx context.Context, code Code) error {
	if code == None {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	i.logger.Warn("indicating fault", "code", uint8(code), "fault", code.String(), "repeat", i.policy.Repeat)

	for r := 0; r < i.policy.Repeat; r++ {
		if err := i.set(false); err != nil {
			return err
		}
		if err := i.sleep(ctx, i.policy.Pause); err != nil {
			return err
		}
		for n := 0; n < int(code); n++ {
			if err := i.set(true); err != nil {
				return err
			}
			if err := i.sleep(ctx, i.policy.Fast); err != nil {
				return err
			}
			if err := i.set(false); err != nil {
				return err
			}
			if err := i.sleep(ctx, i.policy.Fast); err != nil {
				return err
			}
		}
		if err := i.sleep(ctx, i.policy.Pause); err != nil {
			return err
		}
	}
	return nil
}

// Heartbeat toggles the indicator, once per sampling tick while the system runs.
func (i *Indicator) Heartbeat() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.set(!i.on)
}

func (i *Indicator) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.out.Close()
}

func (i *Indicator) set(on bool) error {
	if err := i.out.Set(on); err != nil {
		i.logger.Error("indicator output failed", "error", err)
		return err
	}
	i.on = on
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// LogOutput stands in for an LED on hosts without one; state changes go to the debug log.
type LogOutput struct {
	Logger *slog.Logger
}

func (o LogOutput) Set(on bool) error {
	if o.Logger != nil {
		o.Logger.Debug("indicator", "on", on)
	}
	return nil
}

func (o LogOutput) Close() error { return nil }
