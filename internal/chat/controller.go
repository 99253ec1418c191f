// Package chat turns researcher input into transcript entries: it appends the user turn, streams
// the completion gateway's answer and finalizes it into a single assistant message.
package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/authentifi/internal/models"
)

// Gateway represents a large language model that streams a completion for a conversation. It
// accepts a context and the ordered request context, returning an iterator that yields text
// fragments in arrival order. Normal termination of the iterator is the end-of-stream signal; any
// failure is yielded as a single error, after which the iterator stops.
type Gateway interface {
	Chat(ctx context.Context, messages []models.ChatMessage) iter.Seq2[string, error]
}

// Observer receives the live progress of a stream. Calls for one topic are made sequentially from
// the goroutine running Submit.
type Observer interface {
	// OnFragment is called after every fragment with the partial text accumulated so far.
	OnFragment(topicID, partial string)
	// OnDone is called once the assistant message has been committed.
	OnDone(topicID string, msg models.Message)
	// OnError is called when the stream failed and nothing was committed for it.
	OnError(topicID string, err error)
}

// ErrStreamInFlight is returned by Submit when the topic already has a completion streaming.
var ErrStreamInFlight = errors.New("a completion is already streaming for this topic")

// Failure is the reported, user-visible form of a failed completion. Kind is one of
// models.ErrGatewayUnavailable, models.ErrGatewayError or models.ErrStreamInterrupted.
type Failure struct {
	Kind error
	Err  error
}

func (f *Failure) Error() string {
	if errors.Is(f.Err, f.Kind) {
		return "Error: " + f.Err.Error()
	}
	return fmt.Sprintf("Error: %s: %s", f.Kind, f.Err)
}

// Unwrap exposes both the kind and the underlying cause to errors.Is and errors.As.
func (f *Failure) Unwrap() []error {
	return []error{f.Kind, f.Err}
}

// StreamState is a snapshot of a topic's streaming status, for callers that poll instead of
// observing.
type StreamState struct {
	InFlight  bool
	Partial   string
	StartedAt time.Time
	// Err is the last failure of the topic, kept until the next submit.
	Err error
}

// Controller orchestrates conversations for the topics of one session. It enforces at most one
// in-flight completion per topic.
type Controller struct {
	gateway  Gateway
	observer Observer
	now      func() time.Time
	logger   *slog.Logger

	mu      sync.Mutex
	streams map[string]*stream
	closed  bool
}

type stream struct {
	inFlight  bool
	cancel    context.CancelFunc
	partial   strings.Builder
	startedAt time.Time
	err       error
}

// Option configures a Controller.
type Option func(*Controller)

// WithObserver sets the observer notified of stream progress.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		c.observer = o
	}
}

// WithClock overrides the clock used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// NewController creates a controller that completes conversations with the given gateway.
func NewController(gateway Gateway, logger *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		gateway: gateway,
		now:     time.Now,
		logger:  logger.With(slog.String("module", "chat")),
		streams: make(map[string]*stream),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit appends text as a user message to topic, streams the gateway's answer and appends it as
// an assistant message once the stream ends. It blocks until the stream is over.
//
// Blank text is a no-op. The user message is committed before the gateway is called and is never
// rolled back. If the stream fails, nothing else is appended and a *Failure is returned; the topic
// stays usable and a retry simply submits again.
func (c *Controller) Submit(ctx context.Context, topic *models.Topic, text string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st, err := c.start(cancel, topic, text)
	if err != nil || st == nil {
		return err
	}
	return c.run(ctx, topic, st)
}

// Go is Submit in the background: it returns once the user message is committed, or with the
// error that prevented it, and streams the answer on a new goroutine. done, if not nil, receives
// the outcome of the stream.
func (c *Controller) Go(ctx context.Context, topic *models.Topic, text string, done func(error)) error {
	ctx, cancel := context.WithCancel(ctx)

	st, err := c.start(cancel, topic, text)
	if err != nil || st == nil {
		cancel()
		return err
	}

	go func() {
		defer cancel()
		err := c.run(ctx, topic, st)
		if done != nil {
			done(err)
		}
	}()
	return nil
}

// start claims the topic's stream slot and commits the user message. It returns a nil stream for
// blank text.
func (c *Controller) start(cancel context.CancelFunc, topic *models.Topic, text string) (*stream, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	st, err := c.begin(topic.ID, cancel)
	if err != nil {
		return nil, err
	}
	recordStreamStarted()

	if _, err := topic.Append(models.Message{
		Role:      models.RoleUser,
		Content:   text,
		Timestamp: c.now(),
	}); err != nil {
		c.abort(topic.ID)
		return nil, fmt.Errorf("failed to add user message: %w", err)
	}
	return st, nil
}

func (c *Controller) run(ctx context.Context, topic *models.Topic, st *stream) error {
	messages := models.ChatMessages(topic.Messages())

	c.logger.Debug("Starting completion",
		slog.String("topicID", topic.ID),
		slog.Int("contextMessages", len(messages)))

	received := 0
	for fragment, err := range c.gateway.Chat(ctx, messages) {
		if err != nil {
			return c.fail(ctx, topic.ID, st, err, received)
		}
		received++

		c.mu.Lock()
		st.partial.WriteString(fragment)
		partial := st.partial.String()
		c.mu.Unlock()

		if c.observer != nil {
			c.observer.OnFragment(topic.ID, partial)
		}
	}
	if ctx.Err() != nil {
		return c.fail(ctx, topic.ID, st, ctx.Err(), received)
	}

	msg, err := c.finalize(topic, st)
	if err != nil {
		return c.fail(ctx, topic.ID, st, err, received)
	}

	recordStreamEnded(outcomeSuccess, time.Since(st.startedAt))
	c.logger.Debug("Completion finalized",
		slog.String("topicID", topic.ID),
		slog.Int("fragments", received),
		slog.Int("length", len(msg.Content)))

	if c.observer != nil {
		c.observer.OnDone(topic.ID, msg)
	}
	return nil
}

// Stream returns the streaming status of a topic.
func (c *Controller) Stream(topicID string) StreamState {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.streams[topicID]
	if !ok {
		return StreamState{}
	}
	return StreamState{
		InFlight:  st.inFlight,
		Partial:   st.partial.String(),
		StartedAt: st.startedAt,
		Err:       st.err,
	}
}

// Cancel cancels the in-flight stream of a topic, if any. It reports whether a stream was
// cancelled. The cancelled Submit fails and appends nothing.
func (c *Controller) Cancel(topicID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.streams[topicID]
	if !ok || !st.inFlight {
		return false
	}
	st.cancel()
	return true
}

// Close cancels every in-flight stream and makes further submits fail. It is called when the
// owning session is torn down.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for _, st := range c.streams {
		if st.inFlight {
			st.cancel()
		}
	}
}

// Forget drops the streaming status kept for a topic, e.g. after the topic was deleted. An
// in-flight stream is cancelled first.
func (c *Controller) Forget(topicID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st, ok := c.streams[topicID]; ok {
		if st.inFlight {
			st.cancel()
		}
		delete(c.streams, topicID)
	}
}

func (c *Controller) begin(topicID string, cancel context.CancelFunc) (*stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("%w: session closed", models.ErrStreamInterrupted)
	}
	if st, ok := c.streams[topicID]; ok && st.inFlight {
		return nil, ErrStreamInFlight
	}

	st := &stream{
		inFlight:  true,
		cancel:    cancel,
		startedAt: time.Now(),
	}
	c.streams[topicID] = st
	return st, nil
}

func (c *Controller) abort(topicID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.streams, topicID)
	recordStreamEnded(outcomeAborted, 0)
}

// finalize folds the accumulated fragments into the assistant message. The append and the end of
// the stream happen under the controller lock, so a poller sees either the partial text or the
// committed message.
func (c *Controller) finalize(topic *models.Topic, st *stream) (models.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	content := st.partial.String()
	// Topic.Append rejects blank content, so whitespace counts as empty.
	if strings.TrimSpace(content) == "" {
		return models.Message{}, fmt.Errorf("%w: empty completion", models.ErrGatewayError)
	}

	msg, err := topic.Append(models.Message{
		Role:      models.RoleAssistant,
		Content:   content,
		Timestamp: c.now(),
	})
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to add assistant message: %w", err)
	}

	st.inFlight = false
	st.partial.Reset()
	delete(c.streams, topic.ID)
	return msg, nil
}

func (c *Controller) fail(ctx context.Context, topicID string, st *stream, err error, received int) error {
	f := &Failure{
		Kind: classify(ctx, err, received),
		Err:  err,
	}

	c.mu.Lock()
	st.inFlight = false
	st.partial.Reset()
	st.err = f
	c.mu.Unlock()

	recordStreamEnded(outcomeLabel(f.Kind), time.Since(st.startedAt))
	c.logger.Error("Completion failed",
		slog.String("topicID", topicID),
		slog.Int("fragments", received),
		slog.String(errLoggerKey, err.Error()))

	if c.observer != nil {
		c.observer.OnError(topicID, f)
	}
	return f
}

const errLoggerKey = "err"

// classify maps a stream failure to the error taxonomy. Failures after the first fragment are
// interruptions unless the gateway reported an application-level error.
func classify(ctx context.Context, err error, received int) error {
	switch {
	case errors.Is(err, models.ErrGatewayError):
		return models.ErrGatewayError
	case errors.Is(err, models.ErrStreamInterrupted), received > 0:
		return models.ErrStreamInterrupted
	case errors.Is(err, context.Canceled), errors.Is(ctx.Err(), context.Canceled):
		return models.ErrStreamInterrupted
	default:
		return models.ErrGatewayUnavailable
	}
}
