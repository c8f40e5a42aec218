package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

var ErrAlreadyExists = fmt.Errorf("already exists")
var ErrBadRequest = fmt.Errorf("bad request")
var ErrBadResponse = fmt.Errorf("bad response")
var ErrDetachedEntity = fmt.Errorf("detached entity")
var ErrInternal = fmt.Errorf("internal error")
var ErrInvalidRecord = fmt.Errorf("invalid record")
var ErrMissingField = fmt.Errorf("missing field")
var ErrNotFound = fmt.Errorf("not found")
var ErrNotOwned = fmt.Errorf("entity not owned by this session")
var ErrRequest = fmt.Errorf("request error")
var ErrUnauthorized = fmt.Errorf("unauthorized")

type myError struct {
	msg    string
	target error
}

func (m myError) Error() string        { return m.msg }
func (m myError) Is(target error) bool { return target == m.target }

func NewAlreadyExistsError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrAlreadyExists,
	}
}

func NewDetachedEntityError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrDetachedEntity,
	}
}

// NewInvalidRecordError signals that a raw record claimed to represent a
// linked entity but omitted its type or identity.
func NewInvalidRecordError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrInvalidRecord,
	}
}

func NewMissingFieldError(field string) error {
	return &myError{
		msg:    fmt.Sprintf("field %q has not been fetched", field),
		target: ErrMissingField,
	}
}

func NewNotFoundError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrNotFound,
	}
}

func NewNotOwnedError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrNotOwned,
	}
}

func NewBadResponseError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrBadResponse,
	}
}

func NewBadRequestError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrBadRequest,
	}
}

// NewErrorFromProblemReport turns an RFC 7807 problem report from the record
// service into a matchable error from this package.
func NewErrorFromProblemReport(code int, contentType string, body []byte) error {
	report := &struct {
		Type   string `json:"type"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}{}

	err := json.Unmarshal(body, report)
	if err != nil {
		return fmt.Errorf("failed to process problem report from record service: %s", err.Error())
	}

	switch {
	case code == http.StatusNotFound || report.Type == ProblemTypeNotFound:
		return NewNotFoundError(report.Detail)
	case report.Type == ProblemTypeAlreadyExists:
		return NewAlreadyExistsError(report.Detail)
	case report.Type == ProblemTypeInvalidRecord:
		return NewInvalidRecordError(report.Detail)
	case report.Type == ProblemTypeBadRequest:
		return NewBadRequestError(report.Detail)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &myError{msg: report.Detail, target: ErrUnauthorized}
	}

	return fmt.Errorf(
		"[code: %d] unknown problem report of type \"%s\" with detail \"%s\" received (%w)",
		code, report.Type, report.Detail, ErrInternal,
	)
}
