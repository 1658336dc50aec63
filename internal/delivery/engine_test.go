package delivery_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"philcali.me/notify/internal/data"
	"philcali.me/notify/internal/delivery"
	"philcali.me/notify/internal/exceptions"
	"philcali.me/notify/internal/notifications"
	"philcali.me/notify/internal/notifications/mock"
)

type resolverFunc func(topicId string) ([]data.Subscription, error)

func (f resolverFunc) Confirmed(topicId string) ([]data.Subscription, error) {
	return f(topicId)
}

type sendFunc func(ctx context.Context, kind data.EndpointKind, address string, message data.Message) (string, error)

func (f sendFunc) Send(ctx context.Context, kind data.EndpointKind, address string, message data.Message) (string, error) {
	return f(ctx, kind, address, message)
}

type recordedWait struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedWait) Wait(ctx context.Context, d time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return true
}

type statusCollector struct {
	mu     sync.Mutex
	events []notifications.StatusEvent
}

func (s *statusCollector) PublishStatus(ctx context.Context, event notifications.StatusEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *statusCollector) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, event := range s.events {
		out = append(out, event.Type)
	}
	return out
}

func subscribers(topicId string, addresses ...string) resolverFunc {
	return func(id string) ([]data.Subscription, error) {
		if id != topicId {
			return nil, exceptions.NotFound("topic", id)
		}
		subs := make([]data.Subscription, len(addresses))
		for i, address := range addresses {
			subs[i] = data.Subscription{
				Id:      "sub-" + address,
				TopicId: topicId,
				Kind:    data.SMS,
				Address: address,
				State:   data.CONFIRMED,
			}
		}
		return subs, nil
	}
}

func newEngine(t *testing.T, cfg delivery.Config, deps delivery.Dependencies) *delivery.Engine {
	t.Helper()
	if deps.Resolver == nil {
		deps.Resolver = subscribers("alerts")
	}
	deps.Logger = zerolog.Nop()
	engine, err := delivery.NewEngine(cfg, deps)
	require.NoError(t, err)
	t.Cleanup(func() {
		engine.Close(context.Background())
	})
	return engine
}

func smsMessage(phone string) data.Message {
	return data.Message{
		Payload: "hello",
		Target:  data.EndpointTarget(data.SMS, phone),
	}
}

func TestNewEngine(t *testing.T) {
	t.Run("RejectsBadConfig", func(t *testing.T) {
		cfg := delivery.DefaultConfig()
		cfg.Workers = 0
		_, err := delivery.NewEngine(cfg, delivery.Dependencies{Resolver: subscribers("t"), Transport: sendFunc(nil)})
		assert.Error(t, err)

		cfg = delivery.DefaultConfig()
		cfg.Factor = 1.5
		_, err = delivery.NewEngine(cfg, delivery.Dependencies{Resolver: subscribers("t"), Transport: sendFunc(nil)})
		assert.Error(t, err)
	})

	t.Run("RequiresTransport", func(t *testing.T) {
		_, err := delivery.NewEngine(delivery.DefaultConfig(), delivery.Dependencies{Resolver: subscribers("t")})
		assert.Error(t, err)
	})
}

func TestPublish(t *testing.T) {
	transientErr := exceptions.Transient("+15555550100", errors.New("Throttling"))

	t.Run("DirectDelivered", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		transport := mock.NewMockTransport(ctrl)
		transport.EXPECT().
			Send(gomock.Any(), data.SMS, "+15555550100", gomock.Any()).
			Return("provider-1", nil)
		status := &statusCollector{}
		engine := newEngine(t, delivery.DefaultConfig(), delivery.Dependencies{Transport: transport, Status: status})

		receipt, err := engine.Publish(context.TODO(), smsMessage("+1 555-555-0100"))
		require.NoError(t, err)
		assert.NotEmpty(t, receipt.MessageId)
		assert.Equal(t, delivery.Summary{Total: 1, Delivered: 1}, receipt.Summary)
		attempt := receipt.Attempts[0].Snapshot()
		assert.Equal(t, data.DELIVERED, attempt.State)
		assert.Equal(t, "provider-1", attempt.ProviderMessageId)
		assert.Equal(t, 1, attempt.Attempts)
		require.NoError(t, engine.Close(context.TODO()))
		assert.Equal(t, []string{
			notifications.StatusQueued,
			notifications.StatusAttempt,
			notifications.StatusDelivered,
		}, status.types())
	})

	t.Run("TransientRetriesWithIncreasingDelays", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		transport := mock.NewMockTransport(ctrl)
		transport.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("", transientErr).Times(4)
		transport.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("provider-2", nil)
		waits := &recordedWait{}
		cfg := delivery.DefaultConfig()
		engine := newEngine(t, cfg, delivery.Dependencies{Transport: transport, Wait: waits.Wait})

		receipt, err := engine.Publish(context.TODO(), smsMessage("+15555550100"))
		require.NoError(t, err)
		attempt := receipt.Attempts[0].Snapshot()
		assert.Equal(t, data.DELIVERED, attempt.State)
		assert.Equal(t, 5, attempt.Attempts)

		require.Len(t, waits.delays, 4)
		for i, delay := range waits.delays {
			ceiling := cfg.BaseBackoff << i
			assert.GreaterOrEqual(t, delay, ceiling/2)
			assert.Less(t, delay, ceiling)
			if i > 0 {
				assert.Greater(t, delay, waits.delays[i-1])
			}
		}
	})

	t.Run("TransientExhausted", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		transport := mock.NewMockTransport(ctrl)
		transport.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("", transientErr).Times(5)
		waits := &recordedWait{}
		engine := newEngine(t, delivery.DefaultConfig(), delivery.Dependencies{Transport: transport, Wait: waits.Wait})

		receipt, err := engine.Publish(context.TODO(), smsMessage("+15555550100"))
		require.NoError(t, err)
		assert.Equal(t, delivery.Summary{Total: 1, Failed: 1}, receipt.Summary)
		assert.Len(t, waits.delays, 4)

		var te *exceptions.TransportError
		require.True(t, errors.As(receipt.Attempts[0].Err(), &te))
		assert.Equal(t, exceptions.TRANSIENT, te.Class)
		assert.Equal(t, 5, te.Attempts)
		assert.Contains(t, receipt.Attempts[0].Snapshot().LastError, "after 5 attempt(s)")
	})

	t.Run("PermanentNeverRetries", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		transport := mock.NewMockTransport(ctrl)
		transport.EXPECT().
			Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return("", exceptions.Permanent("+15555550100", errors.New("InvalidParameter")))
		waits := &recordedWait{}
		engine := newEngine(t, delivery.DefaultConfig(), delivery.Dependencies{Transport: transport, Wait: waits.Wait})

		receipt, err := engine.Publish(context.TODO(), smsMessage("+15555550100"))
		require.NoError(t, err)
		attempt := receipt.Attempts[0].Snapshot()
		assert.Equal(t, data.FAILED, attempt.State)
		assert.Equal(t, 1, attempt.Attempts)
		assert.Empty(t, waits.delays)
		assert.Equal(t, 502, exceptions.ToServiceError(receipt.Attempts[0].Err()).StatusCode)
	})

	t.Run("OptedOutNeverSends", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		transport := mock.NewMockTransport(ctrl)
		oracle := mock.NewMockOptOutOracle(ctrl)
		oracle.EXPECT().IsOptedOut(gomock.Any(), "+15555550100").Return(true, nil)
		engine := newEngine(t, delivery.DefaultConfig(), delivery.Dependencies{Transport: transport, OptOut: oracle})

		receipt, err := engine.Publish(context.TODO(), smsMessage("+15555550100"))
		require.NoError(t, err)
		assert.Equal(t, delivery.Summary{Total: 1, OptedOut: 1}, receipt.Summary)
		var oe *exceptions.OptedOutError
		assert.True(t, errors.As(receipt.Attempts[0].Err(), &oe))
	})

	t.Run("OptOutCheckFailure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		transport := mock.NewMockTransport(ctrl)
		oracle := mock.NewMockOptOutOracle(ctrl)
		oracle.EXPECT().IsOptedOut(gomock.Any(), gomock.Any()).Return(false, errors.New("AccessDenied"))
		engine := newEngine(t, delivery.DefaultConfig(), delivery.Dependencies{Transport: transport, OptOut: oracle})

		receipt, err := engine.Publish(context.TODO(), smsMessage("+15555550100"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "check opt-out for +15555550100")
		assert.Equal(t, 0, receipt.Attempts[0].Snapshot().Attempts)
		assert.Equal(t, data.FAILED, receipt.Attempts[0].Snapshot().State)
	})

	t.Run("FanOutIsIndependent", func(t *testing.T) {
		transport := sendFunc(func(ctx context.Context, kind data.EndpointKind, address string, message data.Message) (string, error) {
			if address == "+15555550102" {
				return "", exceptions.Permanent(address, errors.New("unreachable"))
			}
			return "id-" + address, nil
		})
		engine := newEngine(t, delivery.DefaultConfig(), delivery.Dependencies{
			Resolver:  subscribers("alerts", "+15555550100", "+15555550101", "+15555550102"),
			Transport: transport,
		})
		receipt, err := engine.Publish(context.TODO(), data.Message{Payload: "disk full", Target: data.TopicTarget("alerts")})
		require.NoError(t, err)
		assert.Equal(t, delivery.Summary{Total: 3, Delivered: 2, Failed: 1}, receipt.Summary)
		for _, attempt := range receipt.Snapshots() {
			assert.True(t, attempt.State.Terminal())
			assert.Equal(t, "alerts", attempt.TopicId)
			assert.Equal(t, "sub-"+attempt.Address, attempt.SubscriptionId)
		}
	})

	t.Run("TopicWithoutSubscribers", func(t *testing.T) {
		engine := newEngine(t, delivery.DefaultConfig(), delivery.Dependencies{Transport: sendFunc(nil)})
		receipt, err := engine.Publish(context.TODO(), data.Message{Payload: "x", Target: data.TopicTarget("alerts")})
		require.NoError(t, err)
		assert.Equal(t, delivery.Summary{}, receipt.Summary)
		<-receipt.Done()
	})

	t.Run("UnknownTopic", func(t *testing.T) {
		engine := newEngine(t, delivery.DefaultConfig(), delivery.Dependencies{Transport: sendFunc(nil)})
		_, err := engine.Publish(context.TODO(), data.Message{Payload: "x", Target: data.TopicTarget("missing")})
		var nfe *exceptions.NotFoundError
		assert.True(t, errors.As(err, &nfe))
	})

	t.Run("InvalidInput", func(t *testing.T) {
		engine := newEngine(t, delivery.DefaultConfig(), delivery.Dependencies{Transport: sendFunc(nil)})
		_, err := engine.Publish(context.TODO(), smsMessage(""))
		var iee *exceptions.InvalidEndpointError
		assert.True(t, errors.As(err, &iee))

		_, err = engine.Publish(context.TODO(), data.Message{Target: data.TopicTarget("alerts")})
		var ie *exceptions.InvalidInputError
		assert.True(t, errors.As(err, &ie))

		msg := smsMessage("+15555550100")
		msg.Attributes = map[string]data.AttributeValue{"count": {DataType: data.NUMBER_ATTRIBUTE, Value: "lots"}}
		_, err = engine.Publish(context.TODO(), msg)
		assert.True(t, errors.As(err, &ie))
	})

	t.Run("DeduplicatesWithinWindow", func(t *testing.T) {
		var sends atomic.Int32
		transport := sendFunc(func(ctx context.Context, kind data.EndpointKind, address string, message data.Message) (string, error) {
			sends.Add(1)
			return "provider", nil
		})
		engine := newEngine(t, delivery.DefaultConfig(), delivery.Dependencies{Transport: transport})
		msg := smsMessage("+15555550100")
		msg.DeduplicationId = "order-42"

		first, err := engine.Publish(context.TODO(), msg)
		require.NoError(t, err)
		second, err := engine.Publish(context.TODO(), msg)
		require.NoError(t, err)
		assert.Equal(t, int32(1), sends.Load())
		assert.True(t, second.Deduplicated)
		assert.Equal(t, first.MessageId, second.MessageId)
		assert.Equal(t, first.Summary, second.Summary)

		msg.DeduplicationId = "order-43"
		third, err := engine.Publish(context.TODO(), msg)
		require.NoError(t, err)
		assert.NotEqual(t, first.MessageId, third.MessageId)
		assert.Equal(t, int32(2), sends.Load())
	})

	t.Run("DeduplicationExpires", func(t *testing.T) {
		var sends atomic.Int32
		transport := sendFunc(func(ctx context.Context, kind data.EndpointKind, address string, message data.Message) (string, error) {
			sends.Add(1)
			return "provider", nil
		})
		var clock atomic.Int64
		now := func() time.Time { return time.Unix(clock.Load(), 0) }
		engine := newEngine(t, delivery.DefaultConfig(), delivery.Dependencies{Transport: transport, Now: now})
		msg := smsMessage("+15555550100")
		msg.DeduplicationId = "order-42"

		_, err := engine.Publish(context.TODO(), msg)
		require.NoError(t, err)
		clock.Store(int64((6 * time.Minute).Seconds()))
		again, err := engine.Publish(context.TODO(), msg)
		require.NoError(t, err)
		assert.False(t, again.Deduplicated)
		assert.Equal(t, int32(2), sends.Load())
	})

	t.Run("InitialLogFailureFailsPublish", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		transport := mock.NewMockTransport(ctrl)
		log := mock.NewMockDeliveryLog(ctrl)
		log.EXPECT().Record(gomock.Any(), gomock.Any()).Return(errors.New("ProvisionedThroughputExceeded"))
		engine := newEngine(t, delivery.DefaultConfig(), delivery.Dependencies{Transport: transport, Log: log})

		receipt, err := engine.Publish(context.TODO(), smsMessage("+15555550100"))
		assert.Nil(t, receipt)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ProvisionedThroughputExceeded")
	})

	t.Run("LogsEveryTransition", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		transport := mock.NewMockTransport(ctrl)
		transport.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("provider", nil)
		log := mock.NewMockDeliveryLog(ctrl)
		var states []data.AttemptState
		var mu sync.Mutex
		log.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, attempt data.DeliveryAttempt) error {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, attempt.State)
			return nil
		}).Times(3)
		engine := newEngine(t, delivery.DefaultConfig(), delivery.Dependencies{Transport: transport, Log: log})

		_, err := engine.Publish(context.TODO(), smsMessage("+15555550100"))
		require.NoError(t, err)
		require.NoError(t, engine.Close(context.TODO()))
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []data.AttemptState{data.QUEUED, data.IN_FLIGHT, data.DELIVERED}, states)
	})
}

func TestPublishTimeout(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	transport := sendFunc(func(ctx context.Context, kind data.EndpointKind, address string, message data.Message) (string, error) {
		started <- struct{}{}
		<-release
		return "late", nil
	})
	cfg := delivery.DefaultConfig()
	cfg.Workers = 1
	engine := newEngine(t, cfg, delivery.Dependencies{
		Resolver:  subscribers("alerts", "+15555550100", "+15555550101"),
		Transport: transport,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	receipt, err := engine.Publish(ctx, data.Message{Payload: "x", Target: data.TopicTarget("alerts")})
	require.NoError(t, err)
	assert.Equal(t, delivery.Summary{Total: 2, Failed: 1, Pending: 1}, receipt.Summary)

	var timedOut, inflight *delivery.Attempt
	for _, attempt := range receipt.Attempts {
		if attempt.Snapshot().State == data.FAILED {
			timedOut = attempt
		} else {
			inflight = attempt
		}
	}
	require.NotNil(t, timedOut)
	require.NotNil(t, inflight)
	var te *exceptions.TimeoutError
	assert.True(t, errors.As(timedOut.Err(), &te))

	close(release)
	select {
	case <-receipt.Done():
	case <-time.After(time.Second):
		t.Fatalf("expected in-flight attempt to finish")
	}
	assert.Equal(t, data.DELIVERED, inflight.Snapshot().State)
	assert.Equal(t, delivery.Summary{Total: 2, Delivered: 1, Failed: 1}, receipt.Current())
}

func TestPublishBoundsConcurrency(t *testing.T) {
	var current, peak atomic.Int32
	transport := sendFunc(func(ctx context.Context, kind data.EndpointKind, address string, message data.Message) (string, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		return "ok", nil
	})
	cfg := delivery.DefaultConfig()
	cfg.Workers = 2
	engine := newEngine(t, cfg, delivery.Dependencies{
		Resolver: subscribers("alerts",
			"+15555550100", "+15555550101", "+15555550102",
			"+15555550103", "+15555550104", "+15555550105"),
		Transport: transport,
	})
	receipt, err := engine.Publish(context.TODO(), data.Message{Payload: "x", Target: data.TopicTarget("alerts")})
	require.NoError(t, err)
	assert.Equal(t, 6, receipt.Summary.Delivered)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestClose(t *testing.T) {
	engine, err := delivery.NewEngine(delivery.DefaultConfig(), delivery.Dependencies{
		Resolver: subscribers("alerts"),
		Transport: sendFunc(func(context.Context, data.EndpointKind, string, data.Message) (string, error) {
			return "ok", nil
		}),
	})
	require.NoError(t, err)
	_, err = engine.Publish(context.TODO(), smsMessage("+15555550100"))
	require.NoError(t, err)
	require.NoError(t, engine.Close(context.TODO()))

	_, err = engine.Publish(context.TODO(), smsMessage("+15555550100"))
	assert.ErrorIs(t, err, delivery.ErrClosed)
}

func TestOptOutDecidedBeforeQueueing(t *testing.T) {
	release := make(chan struct{})
	transport := sendFunc(func(ctx context.Context, kind data.EndpointKind, address string, message data.Message) (string, error) {
		<-release
		return "late", nil
	})
	resolver := resolverFunc(func(topicId string) ([]data.Subscription, error) {
		return []data.Subscription{
			{Id: "sub-email", TopicId: topicId, Kind: data.EMAIL, Address: "a@x.com", State: data.CONFIRMED},
			{Id: "sub-sms", TopicId: topicId, Kind: data.SMS, Address: "+15555550100", State: data.CONFIRMED},
		}, nil
	})
	status := &statusCollector{}
	cfg := delivery.DefaultConfig()
	cfg.Workers = 1
	engine := newEngine(t, cfg, delivery.Dependencies{
		Resolver:  resolver,
		Transport: transport,
		OptOut:    notifications.NewStaticOptOut("+15555550100"),
		Status:    status,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	receipt, err := engine.Publish(ctx, data.Message{Payload: "x", Target: data.TopicTarget("alerts")})
	require.NoError(t, err)
	assert.Equal(t, delivery.Summary{Total: 2, OptedOut: 1, Pending: 1}, receipt.Summary)
	for _, attempt := range receipt.Snapshots() {
		if attempt.Kind == data.SMS {
			assert.Equal(t, data.OPTED_OUT, attempt.State)
			assert.Equal(t, 0, attempt.Attempts)
		}
	}

	close(release)
	select {
	case <-receipt.Done():
	case <-time.After(time.Second):
		t.Fatalf("expected the email attempt to finish")
	}
	require.NoError(t, engine.Close(context.Background()))
	types := status.types()
	queued, optedOut := 0, 0
	for _, eventType := range types {
		switch eventType {
		case notifications.StatusQueued:
			queued++
		case notifications.StatusOptedOut:
			optedOut++
		case notifications.StatusFailed:
			t.Errorf("unexpected failed event in %v", types)
		}
	}
	assert.Equal(t, 1, queued, types)
	assert.Equal(t, 1, optedOut, types)
}

// contextLog refuses writes once the caller's context is done.
type contextLog struct {
	mu     sync.Mutex
	states map[string]data.AttemptState
}

func (l *contextLog) Record(ctx context.Context, attempt data.DeliveryAttempt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states[attempt.Id] = attempt.State
	return nil
}

func (l *contextLog) state(id string) data.AttemptState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.states[id]
}

func TestTimedOutAttemptsReachTheLog(t *testing.T) {
	release := make(chan struct{})
	transport := sendFunc(func(ctx context.Context, kind data.EndpointKind, address string, message data.Message) (string, error) {
		<-release
		return "late", nil
	})
	log := &contextLog{states: make(map[string]data.AttemptState)}
	cfg := delivery.DefaultConfig()
	cfg.Workers = 1
	engine := newEngine(t, cfg, delivery.Dependencies{
		Resolver:  subscribers("alerts", "+15555550100", "+15555550101", "+15555550102", "+15555550103"),
		Transport: transport,
		Log:       log,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	receipt, err := engine.Publish(ctx, data.Message{Payload: "x", Target: data.TopicTarget("alerts")})
	require.NoError(t, err)
	assert.Equal(t, delivery.Summary{Total: 4, Failed: 3, Pending: 1}, receipt.Summary)

	close(release)
	require.NoError(t, engine.Close(context.Background()))
	for _, attempt := range receipt.Snapshots() {
		assert.Equal(t, attempt.State, log.state(attempt.Id), "attempt %s", attempt.Id)
	}
}
