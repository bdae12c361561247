package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// PollOutcome is how a poll loop ended
type PollOutcome string

const (
	// PollCompleted means the vendor reported the call finished
	PollCompleted PollOutcome = "completed"
	// PollTimeout means the attempt ceiling was reached while the call was still running
	PollTimeout PollOutcome = "timeout"
	// PollExhausted means the attempt ceiling was reached on a failed status request
	PollExhausted PollOutcome = "exhausted"
	// PollCancelled means the context ended the loop
	PollCancelled PollOutcome = "cancelled"
)

// PollResult summarises a poll loop
type PollResult struct {
	Outcome  PollOutcome
	Attempts int
	Details  *CallDetails
	LastErr  error
}

// CallPollerConfig bounds the poll loop
type CallPollerConfig struct {
	InitialDelay time.Duration
	Interval     time.Duration
	RetryDelay   time.Duration
	MaxAttempts  int
}

// CallPoller waits for a vendor call to finish
type CallPoller struct {
	vendor CallVendor
	cfg    CallPollerConfig
	logger *log.Logger
}

// NewCallPoller creates a poller over the given vendor
func NewCallPoller(vendor CallVendor, cfg CallPollerConfig, logger *log.Logger) *CallPoller {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 60
	}
	if logger == nil {
		logger = log.Default()
	}
	return &CallPoller{vendor: vendor, cfg: cfg, logger: logger}
}

// Bound is the wall-clock ceiling of one Await call
func (p *CallPoller) Bound() time.Duration {
	return p.cfg.InitialDelay + time.Duration(p.cfg.MaxAttempts)*p.cfg.Interval
}

// Await polls the vendor until the call finishes, the attempt ceiling or
// Bound is hit, or ctx is done. Every exit returns a result; only
// cancellation of ctx returns an error.
func (p *CallPoller) Await(ctx context.Context, callID string) (PollResult, error) {
	result := PollResult{}

	loopCtx := ctx
	if bound := p.Bound(); bound > 0 {
		var cancel context.CancelFunc
		loopCtx, cancel = context.WithTimeout(ctx, bound)
		defer cancel()
	}

	if err := sleepCtx(loopCtx, p.cfg.InitialDelay); err != nil {
		return p.interrupted(ctx, callID, result)
	}

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		result.Attempts = attempt

		details, err := p.fetch(loopCtx, callID)
		if err != nil {
			if loopCtx.Err() != nil {
				return p.interrupted(ctx, callID, result)
			}
			result.LastErr = err
			p.logger.Printf("poller: status request failed call_id=%s attempt=%d/%d: %v", callID, attempt, p.cfg.MaxAttempts, err)
			if attempt == p.cfg.MaxAttempts {
				break
			}
			if err := sleepCtx(loopCtx, p.cfg.RetryDelay); err != nil {
				return p.interrupted(ctx, callID, result)
			}
			continue
		}

		result.LastErr = nil
		result.Details = details
		if details.IsFinished() {
			result.Outcome = PollCompleted
			return result, nil
		}

		if attempt == p.cfg.MaxAttempts {
			break
		}
		if err := sleepCtx(loopCtx, p.cfg.Interval); err != nil {
			return p.interrupted(ctx, callID, result)
		}
	}

	if result.LastErr != nil {
		result.Outcome = PollExhausted
	} else {
		result.Outcome = PollTimeout
	}
	p.logger.Printf("poller: giving up call_id=%s outcome=%s attempts=%d", callID, result.Outcome, result.Attempts)
	return result, nil
}

// interrupted ends the loop once its context is done: cancelled when the
// caller's ctx ended, timeout when only the poll deadline passed.
func (p *CallPoller) interrupted(ctx context.Context, callID string, result PollResult) (PollResult, error) {
	if err := ctx.Err(); err != nil {
		result.Outcome = PollCancelled
		return result, err
	}
	result.Outcome = PollTimeout
	p.logger.Printf("poller: deadline reached call_id=%s attempts=%d bound=%s", callID, result.Attempts, p.Bound())
	return result, nil
}

// fetch caps one status request at Interval and returns as soon as ctx is
// done, even when the vendor does not honour it.
func (p *CallPoller) fetch(ctx context.Context, callID string) (*CallDetails, error) {
	reqCtx, cancel := ctx, context.CancelFunc(func() {})
	if p.cfg.Interval > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, p.cfg.Interval)
	}
	defer cancel()

	type reply struct {
		details *CallDetails
		err     error
	}
	ch := make(chan reply, 1)
	go func() {
		details, err := p.vendor.CallDetails(reqCtx, callID)
		ch <- reply{details, err}
	}()

	select {
	case r := <-ch:
		if r.err == nil && r.details == nil {
			return nil, errors.New("empty call details")
		}
		return r.details, r.err
	case <-reqCtx.Done():
		return nil, fmt.Errorf("call details %s: %w", callID, reqCtx.Err())
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
