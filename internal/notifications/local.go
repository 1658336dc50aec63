package notifications

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"philcali.me/notify/internal/data"
)

type Sent struct {
	ProviderMessageId string
	Kind              data.EndpointKind
	Address           string
	Message           data.Message
	SentAt            time.Time
}

// LocalTransport logs every send and keeps a bounded history of them. It never fails.
type LocalTransport struct {
	mu       sync.RWMutex
	logger   zerolog.Logger
	capacity int
	sent     []Sent
}

func NewLocalTransport(logger zerolog.Logger, capacity int) *LocalTransport {
	if capacity <= 0 {
		capacity = 100
	}
	return &LocalTransport{
		logger:   logger.With().Str("component", "local_transport").Logger(),
		capacity: capacity,
	}
}

func (lt *LocalTransport) Send(ctx context.Context, kind data.EndpointKind, address string, message data.Message) (string, error) {
	id := uuid.NewString()
	lt.mu.Lock()
	lt.sent = append(lt.sent, Sent{
		ProviderMessageId: id,
		Kind:              kind,
		Address:           address,
		Message:           message,
		SentAt:            time.Now(),
	})
	if len(lt.sent) > lt.capacity {
		lt.sent = lt.sent[len(lt.sent)-lt.capacity:]
	}
	lt.mu.Unlock()
	lt.logger.Info().
		Str("protocol", string(kind)).
		Str("endpoint", address).
		Str("message_id", message.Id).
		Str("provider_message_id", id).
		Msg("local transport: message sent")
	return id, nil
}

func (lt *LocalTransport) Sent() []Sent {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	snapshot := make([]Sent, len(lt.sent))
	copy(snapshot, lt.sent)
	return snapshot
}

type StaticOptOut struct {
	mu      sync.RWMutex
	numbers map[string]bool
}

func NewStaticOptOut(numbers ...string) *StaticOptOut {
	so := &StaticOptOut{numbers: make(map[string]bool, len(numbers))}
	for _, number := range numbers {
		so.numbers[number] = true
	}
	return so
}

func (so *StaticOptOut) OptOut(phoneNumber string) {
	so.mu.Lock()
	defer so.mu.Unlock()
	so.numbers[phoneNumber] = true
}

func (so *StaticOptOut) IsOptedOut(ctx context.Context, phoneNumber string) (bool, error) {
	so.mu.RLock()
	defer so.mu.RUnlock()
	return so.numbers[phoneNumber], nil
}

const ConfirmationTokenAttribute = "confirmationToken"

// TransportConfirmation delivers the confirmation token as a regular message
// through the supplied Transport.
type TransportConfirmation struct {
	Transport Transport
	Subject   string
}

func NewTransportConfirmation(transport Transport) *TransportConfirmation {
	return &TransportConfirmation{
		Transport: transport,
		Subject:   "Confirm your subscription",
	}
}

func _confirmationBody(subscription data.Subscription, token string) string {
	var body strings.Builder
	fmt.Fprintf(&body, "You have chosen to subscribe to topic %s.\n", subscription.TopicId)
	fmt.Fprintf(&body, "Confirm subscription %s with the token: %s\n", subscription.Id, token)
	return body.String()
}

func (tc *TransportConfirmation) SendConfirmation(ctx context.Context, subscription data.Subscription, token string) error {
	_, err := tc.Transport.Send(ctx, subscription.Kind, subscription.Address, data.Message{
		Id:      uuid.NewString(),
		Subject: tc.Subject,
		Payload: _confirmationBody(subscription, token),
		Attributes: map[string]data.AttributeValue{
			ConfirmationTokenAttribute: data.StringAttribute(token),
			"subscriptionId":           data.StringAttribute(subscription.Id),
		},
		Target: data.EndpointTarget(subscription.Kind, subscription.Address),
	})
	return err
}

// LogStatusPublisher writes status events to the log instead of a broker.
type LogStatusPublisher struct {
	logger zerolog.Logger
}

func NewLogStatusPublisher(logger zerolog.Logger) *LogStatusPublisher {
	return &LogStatusPublisher{
		logger: logger.With().Str("component", "status").Logger(),
	}
}

func (lp *LogStatusPublisher) PublishStatus(ctx context.Context, event StatusEvent) error {
	lp.logger.Info().
		Str("event", event.Type).
		Str("message_id", event.MessageId).
		Str("attempt_id", event.AttemptId).
		Str("protocol", string(event.Kind)).
		Int("attempt", event.Attempt).
		Str("error", event.Error).
		Msg("delivery status")
	return nil
}
