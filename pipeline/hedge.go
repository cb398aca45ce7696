package pipeline

import (
	"context"
	"net/http"
	"time"
)

// HedgeConfig configures hedged requests.
//
// When an attempt has not completed within Delay, a duplicate is sent. The
// first successful response wins and the other attempts are cancelled.
// Only idempotent methods are hedged; other requests pass through untouched.
type HedgeConfig struct {
	// Delay between launching attempts. Set it near the upstream's p95.
	Delay time.Duration `mapstructure:"delay"`

	// MaxHedges is the number of duplicates sent on top of the original.
	MaxHedges int `mapstructure:"max_hedges"`
}

// Enabled reports whether hedging is configured.
func (c HedgeConfig) Enabled() bool {
	return c.Delay > 0 && c.MaxHedges > 0
}

// HedgeFactory creates hedging policies. Place it after RetryFactory so each
// retry attempt is hedged, or before it to retry a failed hedge group.
type HedgeFactory struct {
	Config HedgeConfig
}

// Create implements Factory.
func (f HedgeFactory) Create(next Policy, opts *Options) Policy {
	if !f.Config.Enabled() {
		return next
	}
	if opts == nil {
		opts = NewOptions()
	}
	return &hedgePolicy{next: next, cfg: f.Config, opts: opts}
}

type hedgePolicy struct {
	next Policy
	cfg  HedgeConfig
	opts *Options
}

type hedgeResult struct {
	idx  int
	resp *Response
	err  error
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions,
		http.MethodPut, http.MethodDelete, http.MethodTrace:
		return true
	}
	return false
}

func (p *hedgePolicy) Send(ctx context.Context, req *Request) (*Response, error) {
	if !isIdempotent(req.Method) {
		return p.next.Send(ctx, req)
	}
	// Every attempt sends its own clone of the body.
	if _, err := req.Bytes(); err != nil {
		return nil, err
	}

	results := make(chan hedgeResult, p.cfg.MaxHedges+1)
	cancels := make([]context.CancelFunc, 0, p.cfg.MaxHedges+1)

	launch := func() {
		idx := len(cancels)
		attemptCtx, cancel := context.WithCancel(ctx)
		cancels = append(cancels, cancel)
		attempt := req.Clone()
		go func() {
			resp, err := p.next.Send(attemptCtx, attempt)
			results <- hedgeResult{idx: idx, resp: resp, err: err}
		}()
	}

	launch()
	pending := 1

	timer := time.NewTimer(p.cfg.Delay)
	defer timer.Stop()

	var last hedgeResult
	for pending > 0 {
		select {
		case r := <-results:
			pending--
			if r.err == nil && r.resp != nil {
				return finishHedge(r, results, cancels, pending), nil
			}
			last = r
			cancels[r.idx]()

			// Fail over without waiting for the timer.
			if pending == 0 && len(cancels) <= p.cfg.MaxHedges && ctx.Err() == nil {
				launch()
				pending++
			}

		case <-timer.C:
			if len(cancels) > p.cfg.MaxHedges || ctx.Err() != nil {
				continue
			}
			p.opts.Logger.Debug().
				Str("method", req.Method).
				Str("url", req.URL).
				Int("hedge", len(cancels)).
				Msg("sending hedged request")
			launch()
			pending++
			timer.Reset(p.cfg.Delay)
		}
	}

	return last.resp, last.err
}

// finishHedge cancels the losing attempts, ties the winner's context to its
// response body and closes late responses in the background.
func finishHedge(winner hedgeResult, results <-chan hedgeResult, cancels []context.CancelFunc, pending int) *Response {
	for i, cancel := range cancels {
		if i != winner.idx {
			cancel()
		}
	}
	winner.resp.onClose(cancels[winner.idx])

	if pending > 0 {
		go func() {
			for range pending {
				if r := <-results; r.resp != nil {
					_ = r.resp.Close()
				}
			}
		}()
	}
	return winner.resp
}
