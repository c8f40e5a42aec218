package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/diwise/entity-session/pkg/record"
	"github.com/diwise/entity-session/pkg/record/errors"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

//go:generate moq -rm -out ../../test/recordservice_mock.go . RecordService

// RecordService is the collaborator boundary towards the remote record
// service. It knows nothing about caching; it only issues queries and
// mutations and hands raw rows back.
type RecordService interface {
	Query(ctx context.Context, query record.Query) (*record.QueryResult, error)
	Create(ctx context.Context, entityType string, data record.RawRecord, returnFields []string) (record.RawRecord, error)
	Update(ctx context.Context, entityType string, id int64, data record.RawRecord, returnFields []string) (record.RawRecord, error)
	Delete(ctx context.Context, entityType string, id int64) error
	Batch(ctx context.Context, requests []record.BatchRequest) ([]record.RawRecord, error)
}

func Debug(enabled string) func(*rsClient) {
	return func(c *rsClient) {
		c.debug = (enabled == "true")
	}
}

func APIToken(token string) func(*rsClient) {
	return func(c *rsClient) {
		c.apiToken = token
	}
}

func NewRecordService(serviceURL string, options ...func(*rsClient)) RecordService {
	c := &rsClient{
		baseURL: strings.TrimSuffix(serviceURL, "/"),
		debug:   false,
	}

	for _, option := range options {
		option(c)
	}

	return c
}

const (
	TraceAttributeRecordType string = "record-type"
	TraceAttributeRecordID   string = "record-id"
)

var tracer = otel.Tracer("entity-session/record-client")

type rsClient struct {
	baseURL  string
	apiToken string
	debug    bool
}

func (c rsClient) Query(ctx context.Context, query record.Query) (*record.QueryResult, error) {
	var err error

	ctx, span := tracer.Start(ctx, "query-records",
		trace.WithAttributes(attribute.String(TraceAttributeRecordType, query.Type)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %s (%w)", err.Error(), errors.ErrInternal)
	}

	resp, respBody, err := c.callRecordService(
		ctx, http.MethodPost, c.baseURL+"/api/v1/query", bytes.NewBuffer(body),
	)

	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		err = errorFromResponse(resp, respBody)
		return nil, err
	}

	result := struct {
		Records []record.RawRecord `json:"records"`
	}{}

	err = json.Unmarshal(respBody, &result)
	if err != nil {
		if c.debug && len(respBody) < 1000 {
			err = fmt.Errorf("unmarshaling of %s failed with err %s", string(respBody), err.Error())
		}

		return nil, err
	}

	qr := record.NewQueryResult()

	if totalCount, ok := extractRecordCount(resp); ok {
		qr.TotalCount = totalCount
	}

	go func() {
		for idx := range result.Records {
			qr.Found <- result.Records[idx]
		}
		qr.Found <- nil
	}()

	return qr, nil
}

func (c rsClient) Create(ctx context.Context, entityType string, data record.RawRecord, returnFields []string) (record.RawRecord, error) {
	var err error

	ctx, span := tracer.Start(ctx, "create-record",
		trace.WithAttributes(attribute.String(TraceAttributeRecordType, entityType)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record data: %s (%w)", err.Error(), errors.ErrInternal)
	}

	endpoint := c.baseURL + "/api/v1/records/" + url.PathEscape(entityType) + fieldsParam(returnFields)

	resp, respBody, err := c.callRecordService(ctx, http.MethodPost, endpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusCreated {
		err = errorFromResponse(resp, respBody)
		return nil, err
	}

	return decodeRecord(respBody)
}

func (c rsClient) Update(ctx context.Context, entityType string, id int64, data record.RawRecord, returnFields []string) (record.RawRecord, error) {
	var err error

	ctx, span := tracer.Start(ctx, "update-record",
		trace.WithAttributes(attribute.String(TraceAttributeRecordType, entityType)),
		trace.WithAttributes(attribute.Int64(TraceAttributeRecordID, id)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record data: %s (%w)", err.Error(), errors.ErrInternal)
	}

	endpoint := c.baseURL + "/api/v1/records/" + url.PathEscape(entityType) +
		"/" + strconv.FormatInt(id, 10) + fieldsParam(returnFields)

	resp, respBody, err := c.callRecordService(ctx, http.MethodPatch, endpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		err = errorFromResponse(resp, respBody)
		return nil, err
	}

	return decodeRecord(respBody)
}

func (c rsClient) Delete(ctx context.Context, entityType string, id int64) error {
	var err error

	ctx, span := tracer.Start(ctx, "delete-record",
		trace.WithAttributes(attribute.String(TraceAttributeRecordType, entityType)),
		trace.WithAttributes(attribute.Int64(TraceAttributeRecordID, id)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	endpoint := c.baseURL + "/api/v1/records/" + url.PathEscape(entityType) + "/" + strconv.FormatInt(id, 10)

	resp, respBody, err := c.callRecordService(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusNoContent {
		err = errorFromResponse(resp, respBody)
		return err
	}

	return nil
}

func (c rsClient) Batch(ctx context.Context, requests []record.BatchRequest) ([]record.RawRecord, error) {
	var err error

	ctx, span := tracer.Start(ctx, "batch-mutate",
		trace.WithAttributes(attribute.Int("request-count", len(requests))),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	body, err := json.Marshal(requests)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch requests: %s (%w)", err.Error(), errors.ErrInternal)
	}

	resp, respBody, err := c.callRecordService(ctx, http.MethodPost, c.baseURL+"/api/v1/batch", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		err = errorFromResponse(resp, respBody)
		return nil, err
	}

	result := record.BatchResult{}
	err = json.Unmarshal(respBody, &result)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch result: %s (%w)", err.Error(), errors.ErrBadResponse)
	}

	return result.Records, nil
}

func (c rsClient) callRecordService(ctx context.Context, method, endpoint string, body io.Reader) (*http.Response, []byte, error) {
	httpClient := http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %s (%w)", err.Error(), errors.ErrInternal)
	}

	req.Header.Add("Content-Type", "application/json")

	if c.apiToken != "" {
		req.Header.Add("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to send request: %s (%w)", err.Error(), errors.ErrRequest)
	}

	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %s (%w)", err.Error(), errors.ErrBadResponse)
	}

	if c.debug && resp.StatusCode >= http.StatusBadRequest {
		reqbytes, _ := httputil.DumpRequest(req, false)
		respbytes, _ := httputil.DumpResponse(resp, false)

		log := logging.GetFromContext(ctx)
		log.Error("request failed", "request", string(reqbytes), "response", string(respbytes))
	}

	return resp, respBody, nil
}

func errorFromResponse(resp *http.Response, respBody []byte) error {
	contentType := resp.Header.Get("Content-Type")

	if resp.StatusCode >= http.StatusBadRequest && strings.HasPrefix(contentType, errors.ProblemReportContentType) {
		return errors.NewErrorFromProblemReport(resp.StatusCode, contentType, respBody)
	}

	return fmt.Errorf("record service returned status code %d (content-type: %s, body: %s) (%w)",
		resp.StatusCode, contentType, string(respBody), errors.ErrInternal)
}

func decodeRecord(respBody []byte) (record.RawRecord, error) {
	r := record.RawRecord{}
	err := json.Unmarshal(respBody, &r)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %s (%w)", err.Error(), errors.ErrBadResponse)
	}

	if !r.IsRef() {
		return nil, errors.NewInvalidRecordError("record service returned a record without type or id")
	}

	return r, nil
}

func fieldsParam(fields []string) string {
	if len(fields) == 0 {
		return ""
	}
	return "?fields=" + url.QueryEscape(strings.Join(fields, ","))
}

func extractRecordCount(r *http.Response) (int64, bool) {
	val, ok := r.Header[http.CanonicalHeaderKey("Record-Count")]
	if !ok || len(val) == 0 {
		return -1, false
	}

	count, err := strconv.ParseInt(val[0], 10, 64)
	if err != nil {
		return -1, false
	}

	return count, true
}
