package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/matryer/is"
)

func TestProblemReportsMapToMatchableErrors(t *testing.T) {
	testCases := []struct {
		code     int
		body     string
		expected error
	}{
		{http.StatusNotFound, `{"type":"` + ProblemTypeNotFound + `","detail":"gone"}`, ErrNotFound},
		{http.StatusConflict, `{"type":"` + ProblemTypeAlreadyExists + `","detail":"dup"}`, ErrAlreadyExists},
		{http.StatusBadRequest, `{"type":"` + ProblemTypeInvalidRecord + `","detail":"no type"}`, ErrInvalidRecord},
		{http.StatusBadRequest, `{"type":"` + ProblemTypeBadRequest + `","detail":"nope"}`, ErrBadRequest},
		{http.StatusUnauthorized, `{"type":"about:blank","detail":"token expired"}`, ErrUnauthorized},
		{http.StatusForbidden, `{"type":"about:blank","detail":"not allowed"}`, ErrUnauthorized},
		{http.StatusTeapot, `{"type":"about:blank","detail":"??"}`, ErrInternal},
	}

	for _, tc := range testCases {
		t.Run(tc.expected.Error(), func(t *testing.T) {
			is := is.New(t)

			err := NewErrorFromProblemReport(tc.code, ProblemReportContentType, []byte(tc.body))
			is.True(errors.Is(err, tc.expected))
		})
	}
}

func TestConstructorsCarryTheirMessage(t *testing.T) {
	is := is.New(t)

	err := NewMissingFieldError("code")
	is.True(errors.Is(err, ErrMissingField))
	is.Equal(err.Error(), `field "code" has not been fetched`)
}
