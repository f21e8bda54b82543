// Package errors defines the relay error taxonomy: a single root type
// split into the two families the spec's dispatch engine surfaces —
// Communication (broker/transport trouble) and Protocol (a response
// status in the 4xx/5xx range).
package errors

import "fmt"

// Kind is a coarse category for a relay Error, the same role
// ErrorType plays for Boulder's errors package.
type Kind int

const (
	// CommunicationError covers broker connection and socket issues:
	// the Session could not get or keep a live channel.
	CommunicationError Kind = iota

	// RequestTimeout: an RPC did not complete before its deadline.
	RequestTimeout

	// Client-side protocol errors, one per mapped status code.
	BadRequest
	NotFound
	NotAcceptable
	UnprocessableEntity
	ClientError

	// InternalServerError: the consumer's response status was 5xx.
	InternalServerError
)

// Error represents a relay dispatch failure. Body and Fields are only
// populated for UnprocessableEntity.
type Error struct {
	Kind   Kind
	Detail string
	Status int            // HTTP-style status that produced this error, 0 if none
	Body   []byte         // raw response body, for UnprocessableEntity
	Fields map[string]any // parsed validation errors, for UnprocessableEntity
}

func (e *Error) Error() string {
	return e.Detail
}

// New is a convenience constructor, mirroring errors.New in the teacher.
func New(kind Kind, msg string, args ...interface{}) error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(msg, args...)}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Kind == kind
}

func NewCommunicationError(msg string, args ...interface{}) error {
	return New(CommunicationError, msg, args...)
}

func NewRequestTimeout(msg string, args ...interface{}) error {
	return New(RequestTimeout, msg, args...)
}

func NewBadRequest(msg string, args ...interface{}) error {
	return New(BadRequest, msg, args...)
}

func NewNotFound(msg string, args ...interface{}) error {
	return New(NotFound, msg, args...)
}

func NewNotAcceptable(msg string, args ...interface{}) error {
	return New(NotAcceptable, msg, args...)
}

func NewClientError(msg string, args ...interface{}) error {
	return New(ClientError, msg, args...)
}

func NewInternalServerError(msg string, args ...interface{}) error {
	return New(InternalServerError, msg, args...)
}

// NewUnprocessableEntity builds a 422 error carrying the raw response
// body and, when it parses as {"errors": {...}}, the field-level
// validation errors.
func NewUnprocessableEntity(body []byte, fields map[string]any) error {
	return &Error{
		Kind:   UnprocessableEntity,
		Detail: "unprocessable entity",
		Status: 422,
		Body:   body,
		Fields: fields,
	}
}

// FromStatus maps an HTTP-style response status to the relay taxonomy,
// the canonical mapping spec.md §9 Open Question (a) settles on.
// 2xx is not an error and returns nil.
func FromStatus(status int, body []byte, fields map[string]any) error {
	var err error
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 400:
		err = NewBadRequest("bad request")
	case status == 404:
		err = NewNotFound("not found")
	case status == 406:
		err = NewNotAcceptable("not acceptable")
	case status == 408:
		err = NewRequestTimeout("request timeout")
	case status == 422:
		err = NewUnprocessableEntity(body, fields)
	case status >= 500 && status < 600:
		err = NewInternalServerError("server error: status %d", status)
	case status >= 400 && status < 500:
		err = NewClientError("client error: status %d", status)
	default:
		err = NewInternalServerError("unexpected status %d", status)
	}
	err.(*Error).Status = status
	return err
}
