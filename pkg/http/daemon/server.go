package daemon

import (
	"encoding/json"
	"net/http"

	"github.com/go-kit/kit/log"
	"github.com/gorilla/mux"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/weaveworks/common/middleware"

	"github.com/fluxcd/deployer/pkg/api"
	"github.com/fluxcd/deployer/pkg/build"
	fluxerr "github.com/fluxcd/deployer/pkg/errors"
	transport "github.com/fluxcd/deployer/pkg/http"
	"github.com/fluxcd/deployer/pkg/http/websocket"
	"github.com/fluxcd/deployer/pkg/job"
	fluxmetrics "github.com/fluxcd/deployer/pkg/metrics"
)

var (
	requestDuration = stdprometheus.NewHistogramVec(stdprometheus.HistogramOpts{
		Namespace: "deployer",
		Name:      "request_duration_seconds",
		Help:      "Time (in seconds) spent serving HTTP requests.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{fluxmetrics.LabelMethod, fluxmetrics.LabelRoute, "status_code", "ws"})
)

func init() {
	stdprometheus.MustRegister(requestDuration)
}

// An API server for the daemon
func NewRouter() *mux.Router {
	r := transport.NewAPIRouter()

	// We assume every request that doesn't match a route is a client
	// calling an old or hitherto unsupported API.
	r.NewRoute().Name("NotFound").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		transport.WriteError(w, r, http.StatusNotFound, transport.MakeAPINotFound(r.URL.Path))
	})

	return r
}

// Server is what the handlers need; the daemon is one.
type Server interface {
	api.Server
	api.OutputServer
}

func NewHandler(s Server, r *mux.Router, logger log.Logger) http.Handler {
	handle := HTTPServer{server: s, logger: logger}

	r.Get(transport.Ping).HandlerFunc(handle.Ping)
	r.Get(transport.Version).HandlerFunc(handle.Version)

	r.Get(transport.Deploy).HandlerFunc(handle.Deploy)
	r.Get(transport.ListJobs).HandlerFunc(handle.ListJobs)
	r.Get(transport.JobStatus).HandlerFunc(handle.JobStatus)
	r.Get(transport.CancelJob).HandlerFunc(handle.CancelJob)
	r.Get(transport.JobOutput).HandlerFunc(handle.JobOutput)
	r.Get(transport.RecordBuild).HandlerFunc(handle.RecordBuild)

	return middleware.Instrument{
		RouteMatcher: r,
		Duration:     requestDuration,
	}.Wrap(r)
}

type HTTPServer struct {
	server Server
	logger log.Logger
}

func (s HTTPServer) Ping(w http.ResponseWriter, r *http.Request) {
	if err := s.server.Ping(r.Context()); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s HTTPServer) Version(w http.ResponseWriter, r *http.Request) {
	version, err := s.server.Version(r.Context())
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, version)
}

func (s HTTPServer) Deploy(w http.ResponseWriter, r *http.Request) {
	var req api.DeployRequest
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		transport.WriteError(w, r, http.StatusBadRequest, fluxerr.UserError("decoding deploy request: %s", err))
		return
	}
	view, err := s.server.Deploy(r.Context(), req)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponseWithStatus(w, r, http.StatusCreated, view)
}

func (s HTTPServer) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.server.ListJobs(r.Context())
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, jobs)
}

func (s HTTPServer) JobStatus(w http.ResponseWriter, r *http.Request) {
	id := job.ID(mux.Vars(r)["id"])
	view, err := s.server.JobStatus(r.Context(), id)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, view)
}

func (s HTTPServer) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := job.ID(mux.Vars(r)["id"])
	if err := s.server.CancelJob(r.Context(), id); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// JobOutput upgrades to a websocket and streams the job's output
// over it.
func (s HTTPServer) JobOutput(w http.ResponseWriter, r *http.Request) {
	id := job.ID(mux.Vars(r)["id"])
	sub, err := s.server.JobOutput(r.Context(), id)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	conn, err := websocket.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied
		s.logger.Log("job", id, "err", err)
		return
	}
	defer conn.Close()
	if err := websocket.Stream(r.Context(), conn, sub); err != nil {
		s.logger.Log("job", id, "err", err)
	}
}

func (s HTTPServer) RecordBuild(w http.ResponseWriter, r *http.Request) {
	var b build.Build
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		transport.WriteError(w, r, http.StatusBadRequest, fluxerr.UserError("decoding build: %s", err))
		return
	}
	if err := s.server.RecordBuild(r.Context(), mux.Vars(r)["project"], b); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
