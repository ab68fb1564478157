package maxbot

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/AlmaAI/alma-mvp/engine/domain"
	"github.com/AlmaAI/alma-mvp/pkg/fn"
	"github.com/AlmaAI/alma-mvp/pkg/maxapi"
)

// State is the poll loop's observable phase.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateProcessing
	StateRetrying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateProcessing:
		return "processing"
	case StateRetrying:
		return "retrying"
	default:
		return "unknown"
	}
}

// Transport is the inbound half of the chat transport.
type Transport interface {
	Poll(ctx context.Context, marker int64, timeout time.Duration, limit int) (maxapi.UpdatesResponse, error)
}

// Options bound the poll loop.
type Options struct {
	Timeout     time.Duration // server-side long-poll wait
	Limit       int           // max updates per poll
	Workers     int           // chats processed concurrently per batch
	BackoffBase time.Duration // first retry delay after a failed poll
	BackoffMax  time.Duration // backoff ceiling
}

// DefaultOptions returns the production poll configuration.
func DefaultOptions() Options {
	return Options{
		Timeout:     maxapi.DefaultPollTimeout,
		Limit:       maxapi.DefaultPollLimit,
		Workers:     4,
		BackoffBase: time.Second,
		BackoffMax:  30 * time.Second,
	}
}

// outageLogEvery spaces out escalation logs during a persistent outage.
const outageLogEvery = 10

// Poller drives the long-polling loop: poll, dispatch per chat, advance
// the marker. The marker moves only after a batch is handled, so a failed
// poll retries the same position and no update is silently dropped.
type Poller struct {
	transport Transport
	handler   *Handler
	opts      Options
	log       *slog.Logger
	met       Metrics

	marker atomic.Int64
	state  atomic.Int32
}

// NewPoller wires a poller. Zero opts fields fall back to DefaultOptions.
func NewPoller(transport Transport, handler *Handler, opts Options, log *slog.Logger, met Metrics) *Poller {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.Limit <= 0 {
		opts.Limit = def.Limit
	}
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = def.BackoffBase
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = def.BackoffMax
	}
	if log == nil {
		log = slog.Default()
	}
	return &Poller{transport: transport, handler: handler, opts: opts, log: log, met: met}
}

// State reports the loop phase.
func (p *Poller) State() State { return State(p.state.Load()) }

// Marker reports the current update cursor.
func (p *Poller) Marker() int64 { return p.marker.Load() }

// Run polls until ctx is cancelled. A transport failure backs off
// exponentially up to opts.BackoffMax, retrying the same marker; the
// backoff resets on the next successful poll.
func (p *Poller) Run(ctx context.Context) error {
	delay := p.opts.BackoffBase
	failures := 0

	for {
		if err := ctx.Err(); err != nil {
			p.state.Store(int32(StateIdle))
			return err
		}

		p.state.Store(int32(StatePolling))
		resp, err := p.transport.Poll(ctx, p.marker.Load(), p.opts.Timeout, p.opts.Limit)
		if err != nil {
			if ctx.Err() != nil {
				p.state.Store(int32(StateIdle))
				return ctx.Err()
			}
			failures++
			inc(p.met.PollFailures)
			p.state.Store(int32(StateRetrying))
			p.log.Warn("bot: poll failed",
				"error", fmt.Errorf("%w: %v", domain.ErrTransport, err),
				"failures", failures,
				"retry_in", delay,
			)
			if failures%outageLogEvery == 0 {
				p.log.Error("bot: transport outage persists", "failures", failures)
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				p.state.Store(int32(StateIdle))
				return ctx.Err()
			}
			delay *= 2
			if delay > p.opts.BackoffMax {
				delay = p.opts.BackoffMax
			}
			continue
		}

		delay = p.opts.BackoffBase
		failures = 0
		inc(p.met.Polls)

		if len(resp.Updates) > 0 {
			p.state.Store(int32(StateProcessing))
			p.dispatch(ctx, resp.Updates)
		}
		if resp.Marker > 0 {
			p.marker.Store(resp.Marker)
		}
		p.state.Store(int32(StateIdle))
	}
}

// dispatch fans updates out by chat: chats run concurrently, updates for
// one chat stay in arrival order.
func (p *Poller) dispatch(ctx context.Context, updates []maxapi.Update) {
	byChat := fn.GroupBy(updates, chatOf)
	batches := make([][]maxapi.Update, 0, len(byChat))
	for _, batch := range byChat {
		batches = append(batches, batch)
	}
	fn.ParMap(batches, p.opts.Workers, func(batch []maxapi.Update) struct{} {
		for _, u := range batch {
			p.handle(ctx, u)
		}
		return struct{}{}
	})
}

func chatOf(u maxapi.Update) int64 {
	if u.Message != nil {
		return u.Message.Recipient.ChatID
	}
	return u.ChatID
}

func (p *Poller) handle(ctx context.Context, u maxapi.Update) {
	switch u.UpdateType {
	case maxapi.UpdateMessageCreated:
		if u.Message == nil {
			return
		}
		p.handler.HandleMessage(ctx, *u.Message)
	case maxapi.UpdateBotStarted:
		p.handler.HandleBotStarted(ctx, u.ChatID)
	default:
		p.log.Debug("bot: skipping update", "type", u.UpdateType)
	}
}
