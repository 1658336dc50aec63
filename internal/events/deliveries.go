package events

import (
	"context"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"philcali.me/notify/internal/data"
	"philcali.me/notify/internal/dynamodb/deliveries"
	"philcali.me/notify/internal/notifications"
)

func isDelivery(keys map[string]events.DynamoDBAttributeValue) bool {
	pk, ok := keys["PK"]
	return ok && pk.DataType() == events.DataTypeString && strings.HasSuffix(pk.String(), ":Delivery")
}

// _scalar reads a string or number attribute without the type panics of the
// accessors. Missing attributes read as "".
func _scalar(image map[string]events.DynamoDBAttributeValue, field string) string {
	value, ok := image[field]
	if !ok {
		return ""
	}
	switch value.DataType() {
	case events.DataTypeString:
		return value.String()
	case events.DataTypeNumber:
		return value.Number()
	}
	return ""
}

var statusTypes = map[data.AttemptState]string{
	data.QUEUED:    notifications.StatusQueued,
	data.IN_FLIGHT: notifications.StatusAttempt,
	data.DELIVERED: notifications.StatusDelivered,
	data.FAILED:    notifications.StatusFailed,
	data.OPTED_OUT: notifications.StatusOptedOut,
}

// DeliveryStatusHandler republishes delivery log writes as status events. Writes
// that leave the state and attempt count unchanged are skipped.
type DeliveryStatusHandler struct {
	Status notifications.StatusPublisher
}

func (dh *DeliveryStatusHandler) Filter(record events.DynamoDBEventRecord) bool {
	switch record.EventName {
	case "INSERT", "MODIFY":
	default:
		return false
	}
	if !isDelivery(record.Change.Keys) {
		return false
	}
	if record.Change.OldImage == nil {
		return true
	}
	old, current := record.Change.OldImage, record.Change.NewImage
	return _scalar(old, "state") != _scalar(current, "state") || _scalar(old, "attempts") != _scalar(current, "attempts")
}

func ToStatusEvent(attempt data.DeliveryAttempt) (notifications.StatusEvent, bool) {
	eventType, ok := statusTypes[attempt.State]
	if !ok {
		return notifications.StatusEvent{}, false
	}
	return notifications.StatusEvent{
		Type:              eventType,
		MessageId:         attempt.MessageId,
		AttemptId:         attempt.Id,
		TopicId:           attempt.TopicId,
		SubscriptionId:    attempt.SubscriptionId,
		Kind:              attempt.Kind,
		Address:           attempt.Address,
		Attempt:           attempt.Attempts,
		ProviderMessageId: attempt.ProviderMessageId,
		Error:             attempt.LastError,
		Timestamp:         attempt.UpdateTime,
	}, true
}

func (dh *DeliveryStatusHandler) Apply(ctx context.Context, record events.DynamoDBEventRecord) error {
	dto, err := UnmarshalImage[data.DeliveryDTO](record.Change.NewImage)
	if err != nil {
		return errors.Wrapf(err, "decode delivery %s", _scalar(record.Change.Keys, "SK"))
	}
	event, ok := ToStatusEvent(deliveries.ConvertDelivery(dto))
	if !ok {
		return errors.Newf("delivery %s has unknown state %q", dto.SK, dto.State)
	}
	return dh.Status.PublishStatus(ctx, event)
}

func DefaultDeliveryStatusHandler(status notifications.StatusPublisher) *DeliveryStatusHandler {
	return &DeliveryStatusHandler{
		Status: status,
	}
}

// Dispatcher applies every matching handler to each record. A failing
// record is reported and the rest of the batch still runs.
type Dispatcher struct {
	Handlers []EventFilter
	Logger   zerolog.Logger
}

func NewDispatcher(logger zerolog.Logger, handlers ...EventFilter) *Dispatcher {
	return &Dispatcher{
		Handlers: handlers,
		Logger:   logger.With().Str("component", "events").Logger(),
	}
}

// Dispatch returns the ids of records that failed, in the shape Lambda
// expects for partial batch responses.
func (d *Dispatcher) Dispatch(ctx context.Context, event events.DynamoDBEvent) events.DynamoDBEventResponse {
	response := events.DynamoDBEventResponse{}
	for _, record := range event.Records {
		for _, handler := range d.Handlers {
			if !handler.Filter(record) {
				continue
			}
			if err := handler.Apply(ctx, record); err != nil {
				d.Logger.Error().Err(err).
					Str("event_id", record.EventID).
					Str("sequence_number", record.Change.SequenceNumber).
					Msg("failed to handle record")
				response.BatchItemFailures = append(response.BatchItemFailures, events.DynamoDBBatchItemFailure{
					ItemIdentifier: record.Change.SequenceNumber,
				})
				break
			}
		}
	}
	return response
}
