package exceptions

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

type Kind string

const (
	KindInvalidName     Kind = "InvalidName"
	KindInvalidEndpoint Kind = "InvalidEndpoint"
	KindInvalidInput    Kind = "InvalidInput"
	KindNotFound        Kind = "NotFound"
	KindConflict        Kind = "Conflict"
	KindConfirmation    Kind = "Confirmation"
	KindTransport       Kind = "Transport"
	KindOptedOut        Kind = "OptedOut"
	KindTimeout         Kind = "Timeout"
	KindInternal        Kind = "Internal"
)

type ServiceError struct {
	StatusCode int
	Kind       Kind
	Cause      error
}

func (se *ServiceError) Error() string {
	return se.Cause.Error()
}

func (se *ServiceError) Unwrap() error {
	return se.Cause
}

type RequestError interface {
	ToServiceError() *ServiceError
	Error() string
}

// ToServiceError finds the first taxonomy error in the chain and maps it to a
// status code. Unknown errors are internal.
func ToServiceError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	var re RequestError
	if errors.As(err, &re) {
		mapped := re.ToServiceError()
		return &ServiceError{StatusCode: mapped.StatusCode, Kind: mapped.Kind, Cause: err}
	}
	return &ServiceError{StatusCode: 500, Kind: KindInternal, Cause: err}
}

type ConflictError struct {
	Resource string
	Id       string
}

func (ce *ConflictError) Error() string {
	return fmt.Sprintf("Found conflicting %s with id: %s", ce.Resource, ce.Id)
}

func (ce *ConflictError) ToServiceError() *ServiceError {
	return &ServiceError{
		StatusCode: 409,
		Kind:       KindConflict,
		Cause:      ce,
	}
}

func Conflict(resource string, id string) *ConflictError {
	return &ConflictError{
		Resource: resource,
		Id:       id,
	}
}

type NotFoundError struct {
	Resource string
	Id       string
}

func (nfe *NotFoundError) Error() string {
	return fmt.Sprintf("Could not find a %s with id: %s", nfe.Resource, nfe.Id)
}

func (nfe *NotFoundError) ToServiceError() *ServiceError {
	return &ServiceError{
		StatusCode: 404,
		Kind:       KindNotFound,
		Cause:      nfe,
	}
}

func NotFound(resource string, id string) *NotFoundError {
	return &NotFoundError{
		Resource: resource,
		Id:       id,
	}
}

type InvalidInputError struct {
	Message string
}

func (ie *InvalidInputError) Error() string {
	return ie.Message
}

func (ie *InvalidInputError) ToServiceError() *ServiceError {
	return &ServiceError{
		StatusCode: 400,
		Kind:       KindInvalidInput,
		Cause:      ie,
	}
}

func InvalidInput(message string) *InvalidInputError {
	return &InvalidInputError{
		Message: message,
	}
}

type InvalidNameError struct {
	Name   string
	Reason string
}

func (ine *InvalidNameError) Error() string {
	return fmt.Sprintf("Invalid topic name %q: %s", ine.Name, ine.Reason)
}

func (ine *InvalidNameError) ToServiceError() *ServiceError {
	return &ServiceError{
		StatusCode: 400,
		Kind:       KindInvalidName,
		Cause:      ine,
	}
}

func InvalidName(name string, reason string) *InvalidNameError {
	return &InvalidNameError{
		Name:   name,
		Reason: reason,
	}
}

type InvalidEndpointError struct {
	Kind    string
	Address string
	Reason  string
}

func (iee *InvalidEndpointError) Error() string {
	return fmt.Sprintf("Invalid %s endpoint %q: %s", iee.Kind, iee.Address, iee.Reason)
}

func (iee *InvalidEndpointError) ToServiceError() *ServiceError {
	return &ServiceError{
		StatusCode: 400,
		Kind:       KindInvalidEndpoint,
		Cause:      iee,
	}
}

func InvalidEndpoint(kind string, address string, reason string) *InvalidEndpointError {
	return &InvalidEndpointError{
		Kind:    kind,
		Address: address,
		Reason:  reason,
	}
}

type ConfirmationError struct {
	SubscriptionId string
	Reason         string
}

func (ce *ConfirmationError) Error() string {
	return fmt.Sprintf("Could not confirm subscription %s: %s", ce.SubscriptionId, ce.Reason)
}

func (ce *ConfirmationError) ToServiceError() *ServiceError {
	return &ServiceError{
		StatusCode: 403,
		Kind:       KindConfirmation,
		Cause:      ce,
	}
}

func Confirmation(subscriptionId string, reason string) *ConfirmationError {
	return &ConfirmationError{
		SubscriptionId: subscriptionId,
		Reason:         reason,
	}
}

type TransportClass string

const (
	TRANSIENT TransportClass = "Transient"
	PERMANENT TransportClass = "Permanent"
)

type TransportError struct {
	Class    TransportClass
	Address  string
	Attempts int
	Cause    error
}

func (te *TransportError) Error() string {
	msg := fmt.Sprintf("%s transport failure for %s", te.Class, te.Address)
	if te.Attempts > 0 {
		msg = fmt.Sprintf("%s after %d attempt(s)", msg, te.Attempts)
	}
	if te.Cause != nil {
		msg = msg + ": " + te.Cause.Error()
	}
	return msg
}

func (te *TransportError) Unwrap() error {
	return te.Cause
}

func (te *TransportError) ToServiceError() *ServiceError {
	statusCode := 502
	if te.Class == TRANSIENT {
		statusCode = 503
	}
	return &ServiceError{
		StatusCode: statusCode,
		Kind:       KindTransport,
		Cause:      te,
	}
}

func Transient(address string, cause error) *TransportError {
	return &TransportError{Class: TRANSIENT, Address: address, Cause: cause}
}

func Permanent(address string, cause error) *TransportError {
	return &TransportError{Class: PERMANENT, Address: address, Cause: cause}
}

// IsTransient reports whether err carries a transient transport failure.
// Unclassified errors are treated as transient so they get retried.
func IsTransient(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Class == TRANSIENT
	}
	return true
}

type OptedOutError struct {
	PhoneNumber string
}

func (oe *OptedOutError) Error() string {
	return fmt.Sprintf("Phone number %s has opted out of messages", oe.PhoneNumber)
}

func (oe *OptedOutError) ToServiceError() *ServiceError {
	return &ServiceError{
		StatusCode: 409,
		Kind:       KindOptedOut,
		Cause:      oe,
	}
}

func OptedOut(phoneNumber string) *OptedOutError {
	return &OptedOutError{PhoneNumber: phoneNumber}
}

type TimeoutError struct {
	Resource string
	Id       string
}

func (te *TimeoutError) Error() string {
	return fmt.Sprintf("Timed out waiting on %s %s", te.Resource, te.Id)
}

func (te *TimeoutError) ToServiceError() *ServiceError {
	return &ServiceError{
		StatusCode: 504,
		Kind:       KindTimeout,
		Cause:      te,
	}
}

func Timeout(resource string, id string) *TimeoutError {
	return &TimeoutError{
		Resource: resource,
		Id:       id,
	}
}

func InternalServer(message string) *ServiceError {
	return &ServiceError{
		StatusCode: 500,
		Kind:       KindInternal,
		Cause:      errors.New(message),
	}
}
