package notify

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/Aaliyah097/bochat/cmd/identity/ids"
	"github.com/Aaliyah097/bochat/cmd/internal/metrics"
	v1 "github.com/Aaliyah097/bochat/shared/contracts/chat/v1"
)

// Dispatcher defaults.
const (
	DefaultWorkers      = 3
	DefaultPollInterval = time.Second
	DefaultMaxBackoff   = 30 * time.Second
	DefaultPushTimeout  = time.Second
)

// Dispatch results, used as the metrics label.
const (
	resultSent    = "sent"
	resultFailed  = "failed"
	resultSkipped = "skipped"
	resultInvalid = "invalid"
)

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Queue   Queue
	Devices DeviceRegistry
	Pusher  Pusher
	// Tokens is optional. Without it pushes carry no Authorization header.
	Tokens oauth2.TokenSource

	Topic        string
	Group        string
	Workers      int
	PollInterval time.Duration
	MaxBackoff   time.Duration
	PushTimeout  time.Duration
	TokenTTL     time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// Dispatcher drains the notification topic with a pool of workers sharing one consumer group.
type Dispatcher struct {
	opts DispatcherOptions
	log  *slog.Logger
}

func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Queue == nil {
		return nil, errors.New("notify: nil queue")
	}
	if opts.Devices == nil {
		return nil, errors.New("notify: nil device registry")
	}
	if opts.Pusher == nil {
		return nil, errors.New("notify: nil pusher")
	}
	if opts.Topic == "" {
		opts.Topic = v1.NotificationsTopic
	}
	if opts.Group == "" {
		opts.Group = DefaultGroup
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxBackoff < opts.PollInterval {
		opts.MaxBackoff = max(DefaultMaxBackoff, opts.PollInterval)
	}
	if opts.PushTimeout <= 0 {
		opts.PushTimeout = DefaultPushTimeout
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = DefaultTokenTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return &Dispatcher{opts: opts, log: opts.Logger}, nil
}

type worker struct {
	name   string
	tokens *tokenCache
}

// Run creates the consumer group and runs the workers until ctx is done.
// It returns nil on cancellation; worker loops never fail on transient errors.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.ensureGroup(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for slot := 1; slot <= d.opts.Workers; slot++ {
		w := d.newWorker(slot)
		g.Go(func() error {
			d.loop(gctx, w)
			return nil
		})
	}
	d.log.Info("notify.dispatcher.start", "topic", d.opts.Topic, "group", d.opts.Group, "workers", d.opts.Workers)
	err := g.Wait()
	d.log.Info("notify.dispatcher.stop", "topic", d.opts.Topic, "group", d.opts.Group)
	return err
}

// ensureGroup retries CreateGroup with backoff until it succeeds or ctx ends.
func (d *Dispatcher) ensureGroup(ctx context.Context) error {
	backoff := d.opts.PollInterval
	for {
		err := d.opts.Queue.CreateGroup(ctx, d.opts.Topic, d.opts.Group)
		if err == nil {
			return nil
		}
		d.log.Warn("notify.group.create.fail", "topic", d.opts.Topic, "group", d.opts.Group, "err", err)
		if !sleepCtx(ctx, backoff) {
			return ctx.Err()
		}
		backoff = min(backoff*2, d.opts.MaxBackoff)
	}
}

func (d *Dispatcher) loop(ctx context.Context, w *worker) {
	backoff := d.opts.PollInterval

	for ctx.Err() == nil {
		e, ok, err := d.opts.Queue.ReadNext(ctx, d.opts.Topic, d.opts.Group, w.name)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.log.Warn("notify.worker.read.fail", "consumer", w.name, "err", err)
			if errors.Is(err, ErrNoGroup) {
				_ = d.opts.Queue.CreateGroup(ctx, d.opts.Topic, d.opts.Group)
			}
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, d.opts.MaxBackoff)
			continue
		}
		backoff = d.opts.PollInterval

		if !ok {
			if !sleepCtx(ctx, d.opts.PollInterval) {
				return
			}
			continue
		}

		d.handle(ctx, w, e)
	}
}

// handle dispatches one entry and acknowledges it whatever the push outcome.
// A failed ack leaves the entry pending for reclaim.
func (d *Dispatcher) handle(ctx context.Context, w *worker, e Entry) {
	d.dispatch(ctx, w, e)

	// Acknowledge even when ctx was cancelled mid-dispatch.
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.PushTimeout)
	defer cancel()
	if err := d.opts.Queue.Ack(ackCtx, d.opts.Topic, d.opts.Group, e.ID); err != nil {
		d.log.Warn("notify.worker.ack.fail", "consumer", w.name, "stream_id", e.ID, "err", err)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, w *worker, e Entry) {
	rec, err := v1.DecodeNotificationRecord(e.Fields)
	if err != nil {
		d.log.Warn("notify.record.invalid", "consumer", w.name, "stream_id", e.ID, "err", err)
		metrics.ObserveDispatch(resultInvalid)
		return
	}

	devices, err := d.opts.Devices.DevicesFor(ctx, rec.RecipientID)
	if err != nil {
		d.log.Warn("notify.devices.fail", "stream_id", e.ID, "user_id", rec.RecipientID, "err", err)
		metrics.ObserveDispatch(resultFailed)
		return
	}
	if len(devices) == 0 {
		d.log.Debug("notify.skipped", "stream_id", e.ID, "user_id", rec.RecipientID, "reason", "no devices")
		metrics.ObserveDispatch(resultSkipped)
		return
	}

	token, err := w.tokens.Get()
	if err != nil {
		d.log.Warn("notify.worker.token.fail", "consumer", w.name, "stale", token != "", "err", err)
		if token == "" {
			for range devices {
				metrics.ObserveDispatch(resultFailed)
			}
			return
		}
	}

	n := Notification{
		Title: notificationTitle,
		Body:  rec.Text,
		Data: map[string]string{
			"chat_id":    strconv.FormatInt(rec.ChatID, 10),
			"message_id": strconv.FormatInt(rec.MessageID, 10),
			"user_id":    strconv.FormatInt(rec.UserID, 10),
		},
	}
	for _, dev := range devices {
		n.DeviceToken = dev.Token
		d.push(ctx, token, n, e.ID)
	}
}

func (d *Dispatcher) push(ctx context.Context, token string, n Notification, streamID string) {
	pctx, cancel := context.WithTimeout(ctx, d.opts.PushTimeout)
	defer cancel()

	start := time.Now()
	err := d.opts.Pusher.Push(pctx, token, n)
	if err != nil && pctx.Err() == context.DeadlineExceeded && !errors.Is(err, ErrUpstreamTimeout) {
		err = errors.Join(ErrUpstreamTimeout, err)
	}
	metrics.ObservePush(start, err)

	if err != nil {
		d.log.Warn("notify.push.fail", "stream_id", streamID, "chat_id", n.Data["chat_id"], "timeout", errors.Is(err, ErrUpstreamTimeout), "err", err)
		metrics.ObserveDispatch(resultFailed)
		return
	}
	metrics.ObserveDispatch(resultSent)
}

func (d *Dispatcher) newWorker(slot int) *worker {
	return &worker{
		name:   ids.NewConsumerName("dispatcher", slot, d.opts.Now()),
		tokens: newTokenCache(d.opts.Tokens, d.opts.TokenTTL, d.opts.Now),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
