package delivery

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"philcali.me/notify/internal/data"
	"philcali.me/notify/internal/endpoints"
	"philcali.me/notify/internal/exceptions"
	"philcali.me/notify/internal/notifications"
)

var ErrClosed = errors.New("delivery engine is closed")

// Resolver supplies the confirmed subscribers of a topic at publish time.
type Resolver interface {
	Confirmed(topicId string) ([]data.Subscription, error)
}

type Dependencies struct {
	Resolver  Resolver
	Transport notifications.Transport
	OptOut    notifications.OptOutOracle
	Log       notifications.DeliveryLog
	Status    notifications.StatusPublisher
	Logger    zerolog.Logger
	Now       func() time.Time
	// Wait sleeps for d and reports false when ctx ends first.
	Wait func(ctx context.Context, d time.Duration) bool
}

type Engine struct {
	cfg       Config
	resolver  Resolver
	transport notifications.Transport
	optOut    notifications.OptOutOracle
	log       notifications.DeliveryLog
	status    notifications.StatusPublisher
	logger    zerolog.Logger
	now       func() time.Time
	wait      func(ctx context.Context, d time.Duration) bool

	semaphore *semaphore.Weighted
	dedup     *dedupCache

	lifecycle sync.RWMutex
	closed    bool
	inflight  sync.WaitGroup
	base      context.Context
	cancel    context.CancelFunc
}

func NewEngine(cfg Config, deps Dependencies) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if deps.Resolver == nil {
		return nil, errors.New("delivery: resolver dependency is required")
	}
	if deps.Transport == nil {
		return nil, errors.New("delivery: transport dependency is required")
	}
	eng := &Engine{
		cfg:       cfg,
		resolver:  deps.Resolver,
		transport: deps.Transport,
		optOut:    deps.OptOut,
		log:       deps.Log,
		status:    deps.Status,
		logger:    deps.Logger.With().Str("component", "delivery_engine").Logger(),
		now:       deps.Now,
		wait:      deps.Wait,
		semaphore: semaphore.NewWeighted(int64(cfg.Workers)),
		dedup:     newDedupCache(cfg.DedupWindow),
	}
	if eng.now == nil {
		eng.now = time.Now
	}
	if eng.wait == nil {
		eng.wait = _wait
	}
	eng.base, eng.cancel = context.WithCancel(context.Background())
	return eng, nil
}

func _wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (e *Engine) _validate(msg *data.Message) error {
	if msg.Payload == "" {
		return exceptions.InvalidInput("message body cannot be empty")
	}
	for name, attr := range msg.Attributes {
		if name == "" || !attr.Valid() {
			return exceptions.InvalidInput("invalid message attribute: " + name)
		}
	}
	if msg.Target.IsTopic() {
		return nil
	}
	if !msg.Target.Kind.Valid() {
		return exceptions.InvalidEndpoint(string(msg.Target.Kind), msg.Target.Address, "unsupported protocol")
	}
	address, err := endpoints.Normalize(msg.Target.Kind, msg.Target.Address)
	if err != nil {
		return err
	}
	msg.Target.Address = address
	return nil
}

// Publish fans msg out to its targets and blocks until every attempt is
// terminal or ctx ends. Attempts still queued when ctx ends fail with a
// TimeoutError; attempts already sending run to completion and keep updating
// the receipt.
func (e *Engine) Publish(ctx context.Context, msg data.Message) (*Receipt, error) {
	if err := e._validate(&msg); err != nil {
		return nil, err
	}
	if msg.Id == "" {
		msg.Id = uuid.NewString()
	}
	if msg.DeduplicationId == "" {
		return e._publish(ctx, msg)
	}
	key := msg.Target.Key() + "|" + msg.DeduplicationId
	entry, owned := e.dedup._claim(key, e.now())
	if !owned {
		select {
		case <-entry.ready:
		case <-ctx.Done():
			return nil, exceptions.Timeout("message", msg.DeduplicationId)
		}
		if entry.err != nil {
			return nil, entry.err
		}
		e.logger.Info().
			Str("message_id", entry.receipt.MessageId).
			Str("deduplication_id", msg.DeduplicationId).
			Msg("duplicate publish suppressed")
		return e._await(ctx, entry.receipt._duplicate(), false)
	}
	receipt, err := e._dispatch(ctx, msg)
	e.dedup._resolve(key, entry, receipt, err)
	if err != nil {
		return nil, err
	}
	return e._await(ctx, receipt, true)
}

func (e *Engine) _publish(ctx context.Context, msg data.Message) (*Receipt, error) {
	receipt, err := e._dispatch(ctx, msg)
	if err != nil {
		return nil, err
	}
	return e._await(ctx, receipt, true)
}

func (e *Engine) _targets(msg data.Message) ([]data.DeliveryAttempt, error) {
	now := e.now()
	if !msg.Target.IsTopic() {
		return []data.DeliveryAttempt{{
			Id:         uuid.NewString(),
			MessageId:  msg.Id,
			Kind:       msg.Target.Kind,
			Address:    msg.Target.Address,
			State:      data.QUEUED,
			CreateTime: now,
			UpdateTime: now,
		}}, nil
	}
	subscriptions, err := e.resolver.Confirmed(msg.Target.TopicId)
	if err != nil {
		return nil, err
	}
	records := make([]data.DeliveryAttempt, 0, len(subscriptions))
	for _, sub := range subscriptions {
		records = append(records, data.DeliveryAttempt{
			Id:             uuid.NewString(),
			MessageId:      msg.Id,
			TopicId:        sub.TopicId,
			SubscriptionId: sub.Id,
			Kind:           sub.Kind,
			Address:        sub.Address,
			State:          data.QUEUED,
			CreateTime:     now,
			UpdateTime:     now,
		})
	}
	return records, nil
}

// _screen settles sms targets on the opt-out list before anything is queued.
// A failed lookup fails the target without sending.
func (e *Engine) _screen(ctx context.Context, records []data.DeliveryAttempt) []error {
	errs := make([]error, len(records))
	if e.optOut == nil {
		return errs
	}
	for i, record := range records {
		if record.Kind != data.SMS {
			continue
		}
		optedOut, err := e.optOut.IsOptedOut(ctx, record.Address)
		switch {
		case err != nil:
			e.logger.Warn().Err(err).Str("attempt_id", record.Id).Msg("opt-out check failed")
			errs[i] = errors.Wrapf(err, "check opt-out for %s", record.Address)
			records[i].State = data.FAILED
		case optedOut:
			e.logger.Info().Str("attempt_id", record.Id).Msg("endpoint opted out")
			errs[i] = exceptions.OptedOut(record.Address)
			records[i].State = data.OPTED_OUT
		default:
			continue
		}
		records[i].LastError = errs[i].Error()
	}
	return errs
}

func (e *Engine) _dispatch(ctx context.Context, msg data.Message) (*Receipt, error) {
	e.lifecycle.RLock()
	defer e.lifecycle.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}
	records, err := e._targets(msg)
	if err != nil {
		return nil, err
	}
	errs := e._screen(ctx, records)
	for i, record := range records {
		if err := e._record(ctx, record); err != nil {
			for _, logged := range records[:i] {
				if logged.State.Terminal() {
					continue
				}
				logged.State = data.FAILED
				logged.LastError = "initial record could not be logged for sibling " + record.Id
				logged.UpdateTime = e.now()
				e._logTransition(ctx, logged)
			}
			return nil, errors.Wrapf(err, "record delivery %s for message %s", record.Id, msg.Id)
		}
	}
	attempts := make([]*Attempt, len(records))
	for i, record := range records {
		attempts[i] = &Attempt{record: record, err: errs[i], done: make(chan struct{})}
		if record.State.Terminal() {
			close(attempts[i].done)
		}
	}
	receipt := newReceipt(msg.Id, attempts)
	e.logger.Info().
		Str("message_id", msg.Id).
		Str("target", msg.Target.Key()).
		Int("targets", len(attempts)).
		Msg("message accepted")
	for _, attempt := range attempts {
		record := attempt.Snapshot()
		if record.State.Terminal() {
			e._publishStatus(ctx, record, _statusType(record.State), attempt.Err())
			continue
		}
		e._publishStatus(ctx, record, notifications.StatusQueued, nil)
		e.inflight.Add(1)
		go e._deliver(ctx, msg, attempt)
	}
	return receipt, nil
}

func (e *Engine) _await(ctx context.Context, receipt *Receipt, owner bool) (*Receipt, error) {
	select {
	case <-receipt.Done():
	case <-ctx.Done():
		if owner {
			// The caller is gone but the expired records still have to land.
			settle := context.WithoutCancel(ctx)
			now := e.now()
			for _, attempt := range receipt.Attempts {
				if record, ok := attempt._expire(now); ok {
					e._settled(settle, record, attempt.Err())
				}
			}
		}
	}
	receipt.Summary = receipt.Current()
	if !owner {
		return receipt, nil
	}
	return receipt, _unsent(receipt)
}

// _unsent reports an error only when every target failed without a single send.
func _unsent(receipt *Receipt) error {
	if len(receipt.Attempts) == 0 || receipt.Summary.Failed != receipt.Summary.Total {
		return nil
	}
	for _, attempt := range receipt.Attempts {
		if attempt.Snapshot().Attempts > 0 {
			return nil
		}
	}
	first := receipt.Attempts[0].Err()
	if len(receipt.Attempts) == 1 {
		return first
	}
	return errors.Wrapf(first, "all %d deliveries of message %s failed before sending", len(receipt.Attempts), receipt.MessageId)
}

// _workContext detaches from the caller so in-flight sends outlive a publish
// timeout, while still ending when the engine closes.
func (e *Engine) _workContext(ctx context.Context) (context.Context, context.CancelFunc) {
	work, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(e.base, cancel)
	return work, func() {
		stop()
		cancel()
	}
}

func (e *Engine) _acquire(ctx context.Context) error {
	acquireCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(e.base, cancel)
	defer func() {
		stop()
		cancel()
	}()
	if err := e.semaphore.Acquire(acquireCtx, 1); err != nil {
		if e.base.Err() != nil {
			return ErrClosed
		}
		return err
	}
	return nil
}

func (e *Engine) _deliver(ctx context.Context, msg data.Message, attempt *Attempt) {
	defer e.inflight.Done()
	work, cancel := e._workContext(ctx)
	defer cancel()

	if err := e._acquire(ctx); err != nil {
		if errors.Is(err, ErrClosed) {
			e._fail(work, attempt, errors.Wrapf(err, "delivery attempt %s abandoned", attempt.record.Id))
			return
		}
		if record, ok := attempt._expire(e.now()); ok {
			e._settled(work, record, attempt.Err())
		}
		return
	}
	defer e.semaphore.Release(1)

	record, ok := attempt._start(e.now())
	if !ok {
		return
	}
	e._logTransition(work, record)
	logger := e.logger.With().
		Str("message_id", record.MessageId).
		Str("attempt_id", record.Id).
		Str("kind", string(record.Kind)).
		Logger()

	for n := 1; ; n++ {
		record = attempt._tried(e.now())
		e._publishStatus(work, record, notifications.StatusAttempt, nil)
		start := e.now()
		providerId, err := e._send(work, record, msg)
		logger := logger.With().Int("attempt", n).Dur("duration", e.now().Sub(start)).Logger()
		if err == nil {
			logger.Info().Str("provider_message_id", providerId).Msg("message delivered")
			if record, ok := attempt._finish(data.DELIVERED, providerId, nil, e.now()); ok {
				e._settled(work, record, nil)
			}
			return
		}
		if e.base.Err() != nil {
			e._fail(work, attempt, errors.Wrapf(ErrClosed, "delivery attempt %s interrupted: %v", record.Id, err))
			return
		}
		if !exceptions.IsTransient(err) {
			logger.Warn().Err(err).Msg("permanent delivery failure")
			e._fail(work, attempt, _withAttempts(err, exceptions.PERMANENT, record.Address, n))
			return
		}
		if n >= e.cfg.MaxAttempts {
			logger.Warn().Err(err).Msg("retries exhausted")
			e._fail(work, attempt, _withAttempts(err, exceptions.TRANSIENT, record.Address, n))
			return
		}
		delay := e._backoff(n)
		logger.Info().Err(err).Dur("backoff", delay).Msg("scheduling retry after transient error")
		if !e.wait(work, delay) {
			e._fail(work, attempt, errors.Wrapf(ErrClosed, "delivery attempt %s interrupted while backing off", record.Id))
			return
		}
	}
}

func (e *Engine) _send(ctx context.Context, record data.DeliveryAttempt, msg data.Message) (string, error) {
	if e.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.SendTimeout)
		defer cancel()
	}
	return e.transport.Send(ctx, record.Kind, record.Address, msg)
}

func _withAttempts(err error, class exceptions.TransportClass, address string, attempts int) error {
	var te *exceptions.TransportError
	if errors.As(err, &te) {
		wrapped := *te
		wrapped.Attempts = attempts
		return &wrapped
	}
	return &exceptions.TransportError{Class: class, Address: address, Attempts: attempts, Cause: err}
}

// _backoff draws the delay before retry n from [d/2, d) with d = base*factor^(n-1).
func (e *Engine) _backoff(n int) time.Duration {
	if e.cfg.BaseBackoff <= 0 {
		return 0
	}
	d := time.Duration(float64(e.cfg.BaseBackoff) * math.Pow(e.cfg.Factor, float64(n-1)))
	if e.cfg.MaxBackoff > 0 && d > e.cfg.MaxBackoff {
		d = e.cfg.MaxBackoff
	}
	half := d / 2
	if d-half <= 0 {
		return d
	}
	return half + rand.N(d-half)
}

func (e *Engine) _fail(ctx context.Context, attempt *Attempt, err error) {
	if record, ok := attempt._finish(data.FAILED, "", err, e.now()); ok {
		e._settled(ctx, record, err)
	}
}

func _statusType(state data.AttemptState) string {
	switch state {
	case data.DELIVERED:
		return notifications.StatusDelivered
	case data.OPTED_OUT:
		return notifications.StatusOptedOut
	}
	return notifications.StatusFailed
}

func (e *Engine) _settled(ctx context.Context, record data.DeliveryAttempt, err error) {
	e._logTransition(ctx, record)
	e._publishStatus(ctx, record, _statusType(record.State), err)
}

func (e *Engine) _record(ctx context.Context, record data.DeliveryAttempt) error {
	if e.log == nil {
		return nil
	}
	return e.log.Record(ctx, record)
}

func (e *Engine) _logTransition(ctx context.Context, record data.DeliveryAttempt) {
	if err := e._record(ctx, record); err != nil {
		e.logger.Error().
			Str("message_id", record.MessageId).
			Str("attempt_id", record.Id).
			Str("state", string(record.State)).
			Err(err).
			Msg("failed to record delivery transition")
	}
}

func (e *Engine) _publishStatus(ctx context.Context, record data.DeliveryAttempt, eventType string, err error) {
	if e.status == nil {
		return
	}
	event := notifications.StatusEvent{
		Type:              eventType,
		MessageId:         record.MessageId,
		AttemptId:         record.Id,
		TopicId:           record.TopicId,
		SubscriptionId:    record.SubscriptionId,
		Kind:              record.Kind,
		Address:           record.Address,
		Attempt:           record.Attempts,
		ProviderMessageId: record.ProviderMessageId,
		Timestamp:         e.now(),
	}
	if err != nil {
		event.Error = err.Error()
	}
	if err := e.status.PublishStatus(ctx, event); err != nil {
		e.logger.Error().
			Str("message_id", record.MessageId).
			Str("event", eventType).
			Err(err).
			Msg("failed to publish status event")
	}
}

// Close stops accepting messages and waits for outstanding attempts. When ctx
// ends first the remaining attempts are interrupted and fail.
func (e *Engine) Close(ctx context.Context) error {
	e.lifecycle.Lock()
	e.closed = true
	e.lifecycle.Unlock()

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		<-done
		return ctx.Err()
	}
}
