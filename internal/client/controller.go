package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"live-poll-service/internal/domain"
)

const (
	DefaultSubmitTimeout  = 3 * time.Second
	DefaultReconnectDelay = time.Second
)

// ErrSubmitTimedOut is returned by Submit when no answer arrived within the bounded wait.
var ErrSubmitTimedOut = errors.New("submission timed out")

var errStop = errors.New("session ended")

// Config tunes a Controller. SocketURL empty runs the pull channel only.
type Config struct {
	SessionID      int64
	SocketURL      string
	PollInterval   time.Duration
	SubmitTimeout  time.Duration
	ReconnectDelay time.Duration

	// OnChange receives a snapshot after every transition. Calls are serialized.
	OnChange func(Snapshot)
	Log      zerolog.Logger
}

// Controller keeps one viewer in sync with a session over both channels.
type Controller struct {
	api     *API
	cfg     Config
	machine *Machine
	wake    chan struct{}
	log     zerolog.Logger

	mu     sync.Mutex
	socket *Socket

	notifyMu sync.Mutex
}

func NewController(api *API, cfg Config) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultSubmitTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	return &Controller{
		api:     api,
		cfg:     cfg,
		machine: NewMachine(cfg.SocketURL != ""),
		wake:    make(chan struct{}, 1),
		log:     cfg.Log.With().Str("component", "poll_client").Int64("session_id", cfg.SessionID).Logger(),
	}
}

func (c *Controller) Snapshot() Snapshot {
	return c.machine.Snapshot()
}

// Run polls the register and, when configured, holds the push channel open. It
// returns nil once the session ends and ctx.Err() when ctx is canceled.
func (c *Controller) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := Poll(gctx, c.cfg.PollInterval, c.wake, c.refresh, func(err error) {
			c.log.Warn().Err(err).Msg("Poll failed")
		})
		if err == nil {
			// stop the socket loop too
			return errStop
		}
		return err
	})
	if c.cfg.SocketURL != "" {
		g.Go(func() error { return c.runSocket(gctx) })
	}

	err := g.Wait()
	if errors.Is(err, errStop) {
		return nil
	}
	return err
}

// Select applies an option click and reports the new state.
func (c *Controller) Select(optionID int64) error {
	if err := c.machine.Select(optionID); err != nil {
		return err
	}
	c.notify()
	return nil
}

// Submit sends the current selection over the socket and REST in parallel. The REST
// reply decides the outcome; the socket copy is best-effort.
func (c *Controller) Submit(ctx context.Context) error {
	attempt, questionID, optionIDs, err := c.machine.BeginSubmit()
	if err != nil {
		return err
	}
	c.notify()

	sctx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
	defer cancel()

	var (
		g         errgroup.Group
		responses []domain.Response
	)
	if sock := c.currentSocket(); sock != nil {
		g.Go(func() error {
			if err := sock.SendResponse(questionID, optionIDs); err != nil {
				c.log.Debug().Err(err).Msg("Socket submission failed")
			}
			return nil
		})
	}
	g.Go(func() error {
		saved, err := c.api.Submit(sctx, questionID, optionIDs)
		responses = saved
		return err
	})
	err = g.Wait()

	switch {
	case err == nil:
		c.machine.SubmitSucceeded(attempt, responses)
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		c.machine.SubmitTimedOut(attempt)
		err = ErrSubmitTimedOut
	default:
		c.machine.SubmitFailed(attempt, err)
	}
	c.notify()
	return err
}

func (c *Controller) refresh(ctx context.Context) error {
	if c.machine.Ended() {
		return errStop
	}
	view, err := c.api.ActiveQuestion(ctx, c.cfg.SessionID)
	if err != nil {
		return err
	}
	questionID, changed := c.machine.Observe(view)
	if c.machine.Ended() {
		c.notify()
		return errStop
	}
	if !changed {
		c.notify()
		return nil
	}
	c.notify()

	q, err := c.api.Question(ctx, questionID)
	if err != nil {
		c.machine.ForgetActive(questionID)
		return err
	}
	if c.machine.QuestionLoaded(q) {
		c.notify()
	}
	return nil
}

func (c *Controller) runSocket(ctx context.Context) error {
	for {
		c.machine.SetConnection(ConnConnecting)
		c.notify()

		sock, err := DialSocket(ctx, c.cfg.SocketURL)
		if err == nil {
			c.readSocket(ctx, sock)
		} else {
			c.log.Debug().Err(err).Msg("Socket dial failed")
		}

		c.machine.SetConnection(ConnDisconnected)
		c.notify()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

func (c *Controller) readSocket(ctx context.Context, sock *Socket) {
	c.setSocket(sock)
	defer c.setSocket(nil)
	stop := context.AfterFunc(ctx, func() { _ = sock.Close() })
	defer stop()
	defer sock.Close()

	for {
		msg, err := sock.Next()
		if err != nil {
			if ctx.Err() == nil {
				c.log.Info().Err(err).Msg("Socket closed")
			}
			return
		}

		switch msg.Type {
		case domain.EventConnected:
			c.machine.SetConnection(ConnConnected)
			c.notify()
			c.poke()
		case domain.EventQuestionChanged:
			var changed QuestionChanged
			if err := json.Unmarshal(msg.Payload, &changed); err == nil && changed.QuestionID != nil {
				c.log.Debug().Int64("question_id", *changed.QuestionID).Msg("Question changed")
			}
			// the pull path fetches detail; compare-and-skip drops duplicates
			c.poke()
		case domain.EventSessionEnded:
			c.machine.EndSession()
			c.notify()
			c.poke()
		case domain.EventResponseSaved:
			var saved ResponseSaved
			_ = json.Unmarshal(msg.Payload, &saved)
			c.log.Debug().
				Int64("question_id", saved.QuestionID).
				Int("options", len(saved.Responses)).
				Msg("Socket submission saved")
		case domain.EventError:
			var serr SocketError
			_ = json.Unmarshal(msg.Payload, &serr)
			c.log.Warn().
				Str("code", serr.Code).
				Str("message", serr.Message).
				Msg("Socket error message")
		}
	}
}

func (c *Controller) poke() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Controller) currentSocket() *Socket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socket
}

func (c *Controller) setSocket(sock *Socket) {
	c.mu.Lock()
	c.socket = sock
	c.mu.Unlock()
}

func (c *Controller) notify() {
	if c.cfg.OnChange == nil {
		return
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.cfg.OnChange(c.machine.Snapshot())
}

// WatchCounts polls getResponseCounts for the lecturer chart and calls onChange when
// the tallies differ from the previous fetch.
func WatchCounts(ctx context.Context, api *API, questionID int64, interval time.Duration, onChange func(domain.ResponseCounts), onErr func(error)) error {
	if interval <= 0 {
		interval = DefaultChartInterval
	}
	var last *domain.ResponseCounts
	return Poll(ctx, interval, nil, func(ctx context.Context) error {
		counts, err := api.ResponseCounts(ctx, questionID)
		if err != nil {
			return err
		}
		if last != nil && sameCounts(*last, counts) {
			return nil
		}
		last = &counts
		onChange(counts)
		return nil
	}, onErr)
}

func sameCounts(a, b domain.ResponseCounts) bool {
	if a.ResponseCount != b.ResponseCount || a.CorrectCount != b.CorrectCount || len(a.OptionCounts) != len(b.OptionCounts) {
		return false
	}
	for id, n := range a.OptionCounts {
		if b.OptionCounts[id] != n {
			return false
		}
	}
	return true
}
