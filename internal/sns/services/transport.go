package services

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/smithy-go"
	"github.com/cockroachdb/errors"
	"philcali.me/notify/internal/data"
	"philcali.me/notify/internal/exceptions"
)

const (
	SMS_TYPE_ATTRIBUTE      = "AWS.SNS.SMS.SMSType"
	SMS_SENDER_ID_ATTRIBUTE = "AWS.SNS.SMS.SenderID"
	SMS_MAX_PRICE_ATTRIBUTE = "AWS.SNS.SMS.MaxPrice"
	ENDPOINT_ATTRIBUTE      = "endpoint"
)

type Client interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	CheckIfPhoneNumberIsOptedOut(ctx context.Context, params *sns.CheckIfPhoneNumberIsOptedOutInput, optFns ...func(*sns.Options)) (*sns.CheckIfPhoneNumberIsOptedOutOutput, error)
}

type TransportConfig struct {
	// EmailTopicArn receives email sends, tagged with the endpoint attribute so
	// a subscription filter policy can route them.
	EmailTopicArn string
	SMSType       string
	SenderId      string
	MaxPrice      string
}

type TransportSNSService struct {
	Sns    Client
	Config TransportConfig
}

func NewTransport(client Client, config TransportConfig) *TransportSNSService {
	if config.SMSType == "" {
		config.SMSType = "Transactional"
	}
	return &TransportSNSService{
		Sns:    client,
		Config: config,
	}
}

func _stringAttribute(value string) types.MessageAttributeValue {
	return types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(value),
	}
}

func _convertAttributes(attributes map[string]data.AttributeValue) map[string]types.MessageAttributeValue {
	converted := make(map[string]types.MessageAttributeValue, len(attributes))
	for name, value := range attributes {
		converted[name] = types.MessageAttributeValue{
			DataType:    aws.String(string(value.DataType)),
			StringValue: aws.String(value.Value),
		}
	}
	return converted
}

func (t *TransportSNSService) _input(kind data.EndpointKind, address string, message data.Message) (*sns.PublishInput, error) {
	input := &sns.PublishInput{
		Message:           aws.String(message.Payload),
		MessageAttributes: _convertAttributes(message.Attributes),
	}
	switch kind {
	case data.SMS:
		input.PhoneNumber = aws.String(address)
		input.MessageAttributes[SMS_TYPE_ATTRIBUTE] = _stringAttribute(t.Config.SMSType)
		if t.Config.SenderId != "" {
			input.MessageAttributes[SMS_SENDER_ID_ATTRIBUTE] = _stringAttribute(t.Config.SenderId)
		}
		if t.Config.MaxPrice != "" {
			input.MessageAttributes[SMS_MAX_PRICE_ATTRIBUTE] = types.MessageAttributeValue{
				DataType:    aws.String("Number"),
				StringValue: aws.String(t.Config.MaxPrice),
			}
		}
	case data.PUSH:
		if !strings.HasPrefix(address, "arn:") {
			return nil, exceptions.Permanent(address, errors.New("push endpoint must be a platform endpoint ARN"))
		}
		input.TargetArn = aws.String(address)
	case data.EMAIL:
		if t.Config.EmailTopicArn == "" {
			return nil, exceptions.Permanent(address, errors.New("no email topic is configured"))
		}
		input.TopicArn = aws.String(t.Config.EmailTopicArn)
		input.MessageAttributes[ENDPOINT_ATTRIBUTE] = _stringAttribute(address)
		if message.Subject != "" {
			input.Subject = aws.String(message.Subject)
		}
		if strings.HasSuffix(t.Config.EmailTopicArn, ".fifo") {
			dedup := message.DeduplicationId
			if dedup == "" {
				dedup = message.Id
			}
			input.MessageDeduplicationId = aws.String(dedup)
			input.MessageGroupId = aws.String(address)
		}
	default:
		return nil, exceptions.Permanent(address, errors.Newf("unsupported protocol %s", kind))
	}
	return input, nil
}

func (t *TransportSNSService) Send(ctx context.Context, kind data.EndpointKind, address string, message data.Message) (string, error) {
	input, err := t._input(kind, address, message)
	if err != nil {
		return "", err
	}
	output, err := t.Sns.Publish(ctx, input)
	if err != nil {
		return "", Classify(address, err)
	}
	return aws.ToString(output.MessageId), nil
}

var transientCodes = map[string]bool{
	"Throttling":                  true,
	"ThrottlingException":         true,
	"ThrottledException":          true,
	"KMSThrottling":               true,
	"InternalError":               true,
	"InternalFailure":             true,
	"ServiceUnavailable":          true,
	"RequestTimeout":              true,
	"RequestTimeoutException":     true,
	"KMSOptInRequired":            false,
	"EndpointDisabled":            false,
	"InvalidParameter":            false,
	"InvalidParameterValue":       false,
	"AuthorizationError":          false,
	"NotFound":                    false,
	"OptedOut":                    false,
	"PlatformApplicationDisabled": false,
}

// Classify maps an SNS failure onto the transport taxonomy. Errors that never
// reached the service, like dropped connections, are transient.
func Classify(address string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if transient, ok := transientCodes[apiErr.ErrorCode()]; ok {
			if transient {
				return exceptions.Transient(address, err)
			}
			return exceptions.Permanent(address, err)
		}
		if apiErr.ErrorFault() == smithy.FaultClient {
			return exceptions.Permanent(address, err)
		}
	}
	return exceptions.Transient(address, err)
}

type OptOutSNSService struct {
	Sns Client
}

func (o *OptOutSNSService) IsOptedOut(ctx context.Context, phoneNumber string) (bool, error) {
	output, err := o.Sns.CheckIfPhoneNumberIsOptedOut(ctx, &sns.CheckIfPhoneNumberIsOptedOutInput{
		PhoneNumber: aws.String(phoneNumber),
	})
	if err != nil {
		return false, errors.Wrapf(err, "check opt-out status of %s", phoneNumber)
	}
	return output.IsOptedOut, nil
}
