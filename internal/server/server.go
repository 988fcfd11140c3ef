// Package server exposes the scheduler over HTTP and streams job progress
// over WebSocket.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/openbt/openbt/internal/events"
	"github.com/openbt/openbt/internal/logger"
	"github.com/openbt/openbt/internal/marketdata"
	"github.com/openbt/openbt/internal/scheduler"
)

// Server wires the scheduler into HTTP handlers.
type Server struct {
	scheduler *scheduler.Scheduler
	bus       *events.Bus
	log       *logger.Logger
	upgrader  websocket.Upgrader
}

// New creates a server around a scheduler. The bus feeds the WebSocket
// stream and may be nil to disable it.
func New(s *scheduler.Scheduler, bus *events.Bus) *Server {
	return &Server{
		scheduler: s,
		bus:       bus,
		log:       logger.Component("server"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api/backtests").Subrouter()
	api.HandleFunc("", s.handleSubmit).Methods(http.MethodPost)
	api.HandleFunc("", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/compare", s.handleCompare).Methods(http.MethodPost)
	api.HandleFunc("/{id}", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/{id}", s.handleDelete).Methods(http.MethodDelete)
	api.HandleFunc("/{id}/result", s.handleResult).Methods(http.MethodGet)
	api.HandleFunc("/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	api.HandleFunc("/{id}/export", s.handleExport).Methods(http.MethodGet)

	r.HandleFunc("/ws/backtests/{id}", s.handleJobStream)
	return r
}

type errorResponse struct {
	Type string `json:"type"`
	Msg  string `json:"message"`
}

func setResponse(response interface{}, statusCode int, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

func setErrorResponse(errType string, statusCode int, err error, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(&errorResponse{Type: errType, Msg: err.Error()})
}

// writeSchedulerError maps the scheduler error taxonomy onto HTTP codes.
func (s *Server) writeSchedulerError(op string, err error, w http.ResponseWriter) {
	var (
		verr  *scheduler.ValidationError
		aerr  *scheduler.AdmissionError
		nferr *scheduler.NotFoundError
		serr  *scheduler.StateConflictError
	)
	switch {
	case errors.As(err, &verr):
		setErrorResponse(op+": validation failed", http.StatusBadRequest, err, w)
	case errors.As(err, &aerr):
		setResponse(map[string]interface{}{
			"type":           op + ": admission rejected",
			"message":        aerr.Error(),
			"maxConcurrent":  aerr.MaxConcurrent,
			"currentRunning": aerr.CurrentRunning,
		}, http.StatusTooManyRequests, w)
	case errors.As(err, &nferr):
		setErrorResponse(op+": not found", http.StatusNotFound, err, w)
	case errors.As(err, &serr):
		setResponse(map[string]interface{}{
			"type":     op + ": state conflict",
			"message":  serr.Error(),
			"status":   serr.Status,
			"progress": serr.Progress,
		}, http.StatusBadRequest, w)
	default:
		setErrorResponse(op+": internal error", http.StatusInternalServerError, err, w)
	}
}

// submitPayload is the wire shape of a submission; dates accept RFC 3339 or
// plain YYYY-MM-DD.
type submitPayload struct {
	Name           string                   `json:"name"`
	Symbols        []string                 `json:"symbols"`
	StartDate      string                   `json:"startDate"`
	EndDate        string                   `json:"endDate"`
	InitialCapital float64                  `json:"initialCapital"`
	CommissionRate float64                  `json:"commissionRate"`
	SlippageRate   float64                  `json:"slippageRate"`
	DataProvider   string                   `json:"dataProvider"`
	AgentConfigs   []scheduler.AgentConfig  `json:"agentConfigs"`
	Benchmark      []float64                `json:"benchmark,omitempty"`
}

func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}

func (p *submitPayload) toRequest() (scheduler.Request, error) {
	start, err := parseDate(p.StartDate)
	if err != nil {
		return scheduler.Request{}, fmt.Errorf("invalid startDate: %w", err)
	}
	end, err := parseDate(p.EndDate)
	if err != nil {
		return scheduler.Request{}, fmt.Errorf("invalid endDate: %w", err)
	}
	return scheduler.Request{
		Name:           p.Name,
		Symbols:        p.Symbols,
		StartDate:      start,
		EndDate:        end,
		InitialCapital: p.InitialCapital,
		CommissionRate: p.CommissionRate,
		SlippageRate:   p.SlippageRate,
		DataProvider:   marketdata.Kind(p.DataProvider),
		AgentConfigs:   p.AgentConfigs,
		Benchmark:      p.Benchmark,
	}, nil
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload submitPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		setErrorResponse("submitBacktest: failed to decode request", http.StatusBadRequest, err, w)
		return
	}
	req, err := payload.toRequest()
	if err != nil {
		setErrorResponse("submitBacktest: invalid request", http.StatusBadRequest, err, w)
		return
	}

	job, err := s.scheduler.Submit(req)
	if err != nil {
		s.writeSchedulerError("submitBacktest", err, w)
		return
	}

	setResponse(map[string]interface{}{
		"jobId":   job.ID,
		"status":  job.Status,
		"message": "Backtest queued for execution",
	}, http.StatusCreated, w)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	status := scheduler.Status(r.URL.Query().Get("status"))
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			setErrorResponse("listBacktests: invalid limit", http.StatusBadRequest,
				fmt.Errorf("limit must be a non-negative integer"), w)
			return
		}
		limit = parsed
	}

	jobs, counts := s.scheduler.List(status, limit)
	setResponse(map[string]interface{}{
		"jobs":   jobs,
		"counts": counts,
		"total":  len(jobs),
	}, http.StatusOK, w)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.scheduler.Status(id)
	if err != nil {
		s.writeSchedulerError("getBacktest", err, w)
		return
	}
	setResponse(job, http.StatusOK, w)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	result, err := s.scheduler.Result(id)
	if err != nil {
		s.writeSchedulerError("getBacktestResult", err, w)
		return
	}

	resp := map[string]interface{}{"result": result}
	if job, jerr := s.scheduler.Status(id); jerr == nil && job.Metrics != nil {
		resp["metrics"] = job.Metrics
	}
	setResponse(resp, http.StatusOK, w)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.scheduler.Cancel(id)
	if err != nil {
		s.writeSchedulerError("cancelBacktest", err, w)
		return
	}
	setResponse(map[string]interface{}{
		"jobId":  job.ID,
		"status": job.Status,
	}, http.StatusOK, w)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.scheduler.Delete(id); err != nil {
		s.writeSchedulerError("deleteBacktest", err, w)
		return
	}
	setResponse(map[string]interface{}{
		"jobId":   id,
		"message": "Backtest deleted",
	}, http.StatusOK, w)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		JobIDs []string `json:"jobIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		setErrorResponse("compareBacktests: failed to decode request", http.StatusBadRequest, err, w)
		return
	}

	cmp, err := s.scheduler.Compare(payload.JobIDs)
	if err != nil {
		s.writeSchedulerError("compareBacktests", err, w)
		return
	}
	setResponse(cmp, http.StatusOK, w)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	format := r.URL.Query().Get("format")
	if format == "" {
		format = string(scheduler.FormatJSON)
	}

	export, err := s.scheduler.ExportResult(id, scheduler.ExportFormat(format))
	if err != nil {
		s.writeSchedulerError("exportBacktest", err, w)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(export.Data)
}
