package errors

import (
	"encoding/json"
	"net/http"
)

const (
	//ProblemReportContentType as required by https://tools.ietf.org/html/rfc7807
	ProblemReportContentType string = "application/problem+json"

	ProblemTypeAlreadyExists string = "urn:diwise:record-service:errors:AlreadyExists"
	ProblemTypeBadRequest    string = "urn:diwise:record-service:errors:BadRequest"
	ProblemTypeInternal      string = "urn:diwise:record-service:errors:InternalError"
	ProblemTypeInvalidRecord string = "urn:diwise:record-service:errors:InvalidRecord"
	ProblemTypeNotFound      string = "urn:diwise:record-service:errors:NotFound"
	ProblemTypeUnauthorized  string = "urn:diwise:record-service:errors:Unauthorized"
)

//ProblemDetails stores details about a certain problem according to RFC7807
//See https://tools.ietf.org/html/rfc7807
type ProblemDetails interface {
	ContentType() string
	Type() string
	Title() string
	Detail() string
	MarshalJSON() ([]byte, error)
	WriteResponse(w http.ResponseWriter)
}

type ProblemDetailsImpl struct {
	typ     string
	title   string
	detail  string
	code    int
	traceID string
}

func (p ProblemDetailsImpl) ContentType() string { return ProblemReportContentType }
func (p ProblemDetailsImpl) Type() string        { return p.typ }
func (p ProblemDetailsImpl) Title() string       { return p.title }
func (p ProblemDetailsImpl) Detail() string      { return p.detail }

func (p ProblemDetailsImpl) MarshalJSON() ([]byte, error) {
	report := struct {
		Type    string `json:"type"`
		Title   string `json:"title"`
		Detail  string `json:"detail"`
		TraceID string `json:"traceID,omitempty"`
	}{
		Type:    p.typ,
		Title:   p.title,
		Detail:  p.detail,
		TraceID: p.traceID,
	}
	return json.Marshal(&report)
}

func (p ProblemDetailsImpl) WriteResponse(w http.ResponseWriter) {
	w.Header().Add("Content-Type", p.ContentType())
	w.WriteHeader(p.code)
	body, _ := p.MarshalJSON()
	w.Write(body)
}

func newProblem(typ, title, detail string, code int, traceID string) ProblemDetailsImpl {
	return ProblemDetailsImpl{typ: typ, title: title, detail: detail, code: code, traceID: traceID}
}

//ReportNewAlreadyExistsError creates an AlreadyExists problem report and sends it to the supplied http.ResponseWriter
func ReportNewAlreadyExistsError(w http.ResponseWriter, detail, traceID string) {
	newProblem(ProblemTypeAlreadyExists, "Already Exists", detail, http.StatusConflict, traceID).WriteResponse(w)
}

//ReportNewBadRequestError creates a BadRequest problem report and sends it to the supplied http.ResponseWriter
func ReportNewBadRequestError(w http.ResponseWriter, detail, traceID string) {
	newProblem(ProblemTypeBadRequest, "Bad Request", detail, http.StatusBadRequest, traceID).WriteResponse(w)
}

//ReportNewInvalidRecordError creates an InvalidRecord problem report and sends it to the supplied http.ResponseWriter
func ReportNewInvalidRecordError(w http.ResponseWriter, detail, traceID string) {
	newProblem(ProblemTypeInvalidRecord, "Invalid Record", detail, http.StatusBadRequest, traceID).WriteResponse(w)
}

//ReportNotFoundError creates a NotFound problem report and sends it to the supplied http.ResponseWriter
func ReportNotFoundError(w http.ResponseWriter, detail, traceID string) {
	newProblem(ProblemTypeNotFound, "Not Found", detail, http.StatusNotFound, traceID).WriteResponse(w)
}

//ReportUnauthorizedError creates an Unauthorized problem report and sends it to the supplied http.ResponseWriter
func ReportUnauthorizedError(w http.ResponseWriter, detail, traceID string) {
	newProblem(ProblemTypeUnauthorized, "Unauthorized", detail, http.StatusUnauthorized, traceID).WriteResponse(w)
}

//ReportNewInternalError creates an InternalError problem report and sends it to the supplied http.ResponseWriter
func ReportNewInternalError(w http.ResponseWriter, detail, traceID string) {
	newProblem(ProblemTypeInternal, "Internal Error", detail, http.StatusInternalServerError, traceID).WriteResponse(w)
}
