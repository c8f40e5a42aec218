package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/diwise/entity-session/internal/pkg/application/store"
	"github.com/diwise/entity-session/internal/pkg/presentation/api/auth"
	"github.com/diwise/entity-session/pkg/record"
	recorderrors "github.com/diwise/entity-session/pkg/record/errors"
)

var tracer = otel.Tracer("entity-session/record-service/api")

// RegisterHandlers mounts the record service endpoints on the router.
func RegisterHandlers(ctx context.Context, r chi.Router, policies io.Reader, s store.Store) error {

	authenticator, err := auth.NewAuthenticator(ctx, policies)
	if err != nil {
		return fmt.Errorf("failed to create api authenticator: %w", err)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Logger(ctx))

		r.Post("/query", NewQueryRecordsHandler(s, authenticator))
		r.Post("/batch", NewBatchHandler(s, authenticator))

		r.Route("/records/{recordType}", func(r chi.Router) {
			r.Post("/", NewCreateRecordHandler(s, authenticator))
			r.Patch("/{recordID}", NewUpdateRecordHandler(s, authenticator))
			r.Delete("/{recordID}", NewDeleteRecordHandler(s, authenticator))
		})
	})

	return nil
}

// Logger makes sure a trace id tagged logger is available in each request
// context.
func Logger(ctx context.Context) func(http.Handler) http.Handler {
	logger := logging.GetFromContext(ctx)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			_, ctx, _ = o11y.AddTraceIDToLoggerAndStoreInContext(
				trace.SpanFromContext(ctx),
				logger,
				ctx)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func traceIDFromContext(ctx context.Context) string {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if spanCtx.HasTraceID() {
		return spanCtx.TraceID().String()
	}
	return ""
}

func reportProblem(ctx context.Context, w http.ResponseWriter, err error) {
	traceID := traceIDFromContext(ctx)

	switch {
	case errors.Is(err, recorderrors.ErrNotFound):
		recorderrors.ReportNotFoundError(w, err.Error(), traceID)
	case errors.Is(err, recorderrors.ErrAlreadyExists):
		recorderrors.ReportNewAlreadyExistsError(w, err.Error(), traceID)
	case errors.Is(err, recorderrors.ErrInvalidRecord):
		recorderrors.ReportNewInvalidRecordError(w, err.Error(), traceID)
	case errors.Is(err, recorderrors.ErrBadRequest):
		recorderrors.ReportNewBadRequestError(w, err.Error(), traceID)
	default:
		logging.GetFromContext(ctx).Error("request failed", "err", err.Error())
		recorderrors.ReportNewInternalError(w, err.Error(), traceID)
	}
}

func checkAccess(ctx context.Context, w http.ResponseWriter, r *http.Request, authenticator auth.Enticator, recordTypes []string) bool {
	err := authenticator.CheckAccess(ctx, r, recordTypes)
	if err != nil {
		recorderrors.ReportUnauthorizedError(w, err.Error(), traceIDFromContext(ctx))
		return false
	}
	return true
}

// NewQueryRecordsHandler handles incoming POST requests for record queries.
func NewQueryRecordsHandler(s store.Store, authenticator auth.Enticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx, span := tracer.Start(r.Context(), "query-records")
		defer func() {
			if err != nil {
				span.RecordError(err)
			}
			span.End()
		}()

		q := record.Query{}
		err = json.NewDecoder(r.Body).Decode(&q)
		if err != nil {
			err = fmt.Errorf("unable to decode query: %s", err.Error())
			recorderrors.ReportNewBadRequestError(w, err.Error(), traceIDFromContext(ctx))
			return
		}

		if q.Type == "" {
			err = errors.New("a query must name the record type it targets")
			recorderrors.ReportNewBadRequestError(w, err.Error(), traceIDFromContext(ctx))
			return
		}

		if !checkAccess(ctx, w, r, authenticator, []string{q.Type}) {
			return
		}

		found, total, err := s.Query(ctx, q)
		if err != nil {
			reportProblem(ctx, w, err)
			return
		}

		w.Header().Add("Content-Type", "application/json")
		w.Header().Add("Record-Count", strconv.FormatInt(total, 10))
		w.WriteHeader(http.StatusOK)

		json.NewEncoder(w).Encode(struct {
			Records []record.RawRecord `json:"records"`
		}{Records: found})
	}
}

// NewCreateRecordHandler handles POST requests for new records.
func NewCreateRecordHandler(s store.Store, authenticator auth.Enticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx, span := tracer.Start(r.Context(), "create-record")
		defer func() {
			if err != nil {
				span.RecordError(err)
			}
			span.End()
		}()

		recordType := chi.URLParam(r, "recordType")

		if !checkAccess(ctx, w, r, authenticator, []string{recordType}) {
			return
		}

		data := record.RawRecord{}
		err = json.NewDecoder(r.Body).Decode(&data)
		if err != nil {
			err = fmt.Errorf("unable to decode record data: %s", err.Error())
			recorderrors.ReportNewBadRequestError(w, err.Error(), traceIDFromContext(ctx))
			return
		}

		created, err := s.Create(ctx, recordType, data)
		if err != nil {
			reportProblem(ctx, w, err)
			return
		}

		response, err := shapeRecord(ctx, s, created, returnFields(r))
		if err != nil {
			reportProblem(ctx, w, err)
			return
		}

		w.Header().Add("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(response)
	}
}

// NewUpdateRecordHandler handles PATCH requests against single records.
func NewUpdateRecordHandler(s store.Store, authenticator auth.Enticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx, span := tracer.Start(r.Context(), "update-record")
		defer func() {
			if err != nil {
				span.RecordError(err)
			}
			span.End()
		}()

		recordType := chi.URLParam(r, "recordType")

		recordID, err := strconv.ParseInt(chi.URLParam(r, "recordID"), 10, 64)
		if err != nil {
			err = fmt.Errorf("record ids must be numeric: %s", err.Error())
			recorderrors.ReportNewBadRequestError(w, err.Error(), traceIDFromContext(ctx))
			return
		}

		if !checkAccess(ctx, w, r, authenticator, []string{recordType}) {
			return
		}

		data := record.RawRecord{}
		err = json.NewDecoder(r.Body).Decode(&data)
		if err != nil {
			err = fmt.Errorf("unable to decode record data: %s", err.Error())
			recorderrors.ReportNewBadRequestError(w, err.Error(), traceIDFromContext(ctx))
			return
		}

		updated, err := s.Update(ctx, recordType, recordID, data)
		if err != nil {
			reportProblem(ctx, w, err)
			return
		}

		response, err := shapeRecord(ctx, s, updated, returnFields(r))
		if err != nil {
			reportProblem(ctx, w, err)
			return
		}

		w.Header().Add("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	}
}

// NewDeleteRecordHandler handles DELETE requests against single records.
func NewDeleteRecordHandler(s store.Store, authenticator auth.Enticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx, span := tracer.Start(r.Context(), "delete-record")
		defer func() {
			if err != nil {
				span.RecordError(err)
			}
			span.End()
		}()

		recordType := chi.URLParam(r, "recordType")

		recordID, err := strconv.ParseInt(chi.URLParam(r, "recordID"), 10, 64)
		if err != nil {
			err = fmt.Errorf("record ids must be numeric: %s", err.Error())
			recorderrors.ReportNewBadRequestError(w, err.Error(), traceIDFromContext(ctx))
			return
		}

		if !checkAccess(ctx, w, r, authenticator, []string{recordType}) {
			return
		}

		err = s.Delete(ctx, recordType, recordID)
		if err != nil {
			reportProblem(ctx, w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// NewBatchHandler applies a group of mutations in request order and returns
// their results in one response.
func NewBatchHandler(s store.Store, authenticator auth.Enticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx, span := tracer.Start(r.Context(), "batch-mutations")
		defer func() {
			if err != nil {
				span.RecordError(err)
			}
			span.End()
		}()

		requests := []record.BatchRequest{}
		err = json.NewDecoder(r.Body).Decode(&requests)
		if err != nil {
			err = fmt.Errorf("unable to decode batch requests: %s", err.Error())
			recorderrors.ReportNewBadRequestError(w, err.Error(), traceIDFromContext(ctx))
			return
		}

		recordTypes := []string{}
		for _, request := range requests {
			recordTypes = append(recordTypes, request.Type)
		}

		if !checkAccess(ctx, w, r, authenticator, recordTypes) {
			return
		}

		results := make([]record.RawRecord, len(requests))

		for i, request := range requests {
			switch request.Op {
			case record.OpCreate:
				results[i], err = s.Create(ctx, request.Type, request.Data)
			case record.OpUpdate:
				results[i], err = s.Update(ctx, request.Type, request.ID, request.Data)
			case record.OpDelete:
				err = s.Delete(ctx, request.Type, request.ID)
			default:
				err = recorderrors.NewBadRequestError(
					fmt.Sprintf("unknown batch operation %q", request.Op),
				)
			}

			if err != nil {
				reportProblem(ctx, w, err)
				return
			}
		}

		w.Header().Add("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		json.NewEncoder(w).Encode(record.BatchResult{Records: results})
	}
}

// shapeRecord projects a mutated record through the store so that requested
// deep fields resolve the same way they do for queries.
func shapeRecord(ctx context.Context, s store.Store, r record.RawRecord, fields []string) (record.RawRecord, error) {
	if len(fields) == 0 {
		return r, nil
	}

	id, _ := r.ID()

	found, _, err := s.Query(ctx, record.Query{
		Type:    r.Type(),
		Filters: []record.Filter{record.Is(record.AttributeID, id)},
		Fields:  fields,
	})
	if err != nil {
		return nil, err
	}

	if len(found) != 1 {
		return nil, recorderrors.NewNotFoundError("mutated record vanished")
	}

	return found[0], nil
}

func returnFields(r *http.Request) []string {
	fields := r.URL.Query().Get("fields")
	if fields == "" {
		return nil
	}
	return strings.Split(fields, ",")
}
