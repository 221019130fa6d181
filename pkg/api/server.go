package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/warren/pkg/ledger"
	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/manager"
	"github.com/cuemby/warren/pkg/metrics"
	"github.com/cuemby/warren/pkg/types"
	"github.com/google/uuid"
)

// Deployer is the subset of pkg/orchestrator.Orchestrator the API needs to
// start and cancel deployments; declared as an interface so handlers can be
// tested against a fake without starting real swarm/build/proxy clients.
type Deployer interface {
	Run(ctx context.Context, deploymentID string)
	Cancel(deploymentID string) error
}

// TearDown is the subset of pkg/archiver.Archiver the API needs to delete
// projects/environments/services through their full tear-down sequence
// (spec.md §4.9) rather than a bare storage delete.
type TearDown interface {
	ArchiveService(ctx context.Context, svc *types.Service) error
	ArchiveEnvironment(ctx context.Context, environmentID string) error
	ArchiveProject(ctx context.Context, projectID string) error
}

// Cloner is the subset of pkg/environment.Cloner the API needs to fork an
// environment's declarative state (spec.md §4.8).
type Cloner interface {
	Clone(ctx context.Context, sourceEnvironmentID, targetName string, deployServices bool) (*types.Environment, error)
}

// Server is the control plane's JSON-over-HTTP API. An earlier design
// iteration was a gRPC service secured with per-node mTLS
// (api/proto.WarrenAPIServer); this control plane is a single process with
// no peer managers to authenticate, so the RPC surface collapses to plain
// HTTP handlers behind a bearer join-token (pkg/manager.TokenManager)
// instead of mTLS.
type Server struct {
	manager  *manager.Manager
	ledger   *ledger.Ledger
	orch     Deployer
	teardown TearDown
	cloner   Cloner
	mux      *http.ServeMux
}

// NewServer creates a Server wired to mgr's domain model, l's change
// pipeline, orch's deployment driver, teardown's archival sequences, and
// cloner's environment-fork operation.
func NewServer(mgr *manager.Manager, l *ledger.Ledger, orch Deployer, teardown TearDown, cloner Cloner) *Server {
	s := &Server{manager: mgr, ledger: l, orch: orch, teardown: teardown, cloner: cloner, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/v1/projects", s.handleProjects)
	s.mux.HandleFunc("/v1/projects/", s.handleProjectByID)
	s.mux.HandleFunc("/v1/environments", s.handleEnvironments)
	s.mux.HandleFunc("/v1/environments/", s.handleEnvironmentByID)
	s.mux.HandleFunc("/v1/services", s.handleServices)
	s.mux.HandleFunc("/v1/services/", s.handleServiceByID)
	s.mux.HandleFunc("/v1/deployments/", s.handleDeploymentByID)
	s.mux.HandleFunc("/v1/nodes", s.handleNodes)
	s.mux.HandleFunc("/v1/secrets", s.handleSecrets)
	s.mux.HandleFunc("/v1/secrets/", s.handleSecretByID)
}

// Handler returns the HTTP handler, for embedding behind a wrapping mux
// (metrics/health already live on their own ports via pkg/api.HealthServer).
func (s *Server) Handler() http.Handler {
	return withAPIMetrics(withAuth(s.manager, withReadOnlyGate(s.manager, s.mux)))
}

// withAuth requires a valid bearer token (pkg/manager.TokenManager) on every
// request. The warren CLI passes the token it received from `cluster init`.
func withAuth(mgr *manager.Manager, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token", "Authorization: Bearer <token> required")
			return
		}
		if _, err := mgr.ValidateJoinToken(token); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token", err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

// Start runs the API server until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// withAPIMetrics records request count/latency via
// metrics.APIRequestsTotal/APIRequestDuration.
func withAPIMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, fmt.Sprintf("%d", rec.status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withReadOnlyGate rejects write methods against a non-leader manager — the
// HTTP-method equivalent of a gRPC ReadOnlyInterceptor, which would
// inspect info.FullMethod's gRPC method name instead of an HTTP verb.
func withReadOnlyGate(mgr *manager.Manager, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isWriteMethod(r.Method) && !mgr.IsLeader() {
			writeError(w, http.StatusServiceUnavailable, "not_leader", "this node is not the Raft leader")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isWriteMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

// --- JSON helpers ---

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Code: code, Message: message})
}

// writeLedgerError maps a pkg/ledger.Error's Kind to an HTTP status;
// anything else is a fatal 500.
func writeLedgerError(w http.ResponseWriter, err error) {
	var lerr *ledger.Error
	if errors.As(err, &lerr) {
		switch lerr.Kind {
		case "invalid_change":
			writeError(w, http.StatusBadRequest, lerr.Kind, lerr.Reason)
		case "conflict":
			writeError(w, http.StatusConflict, lerr.Kind, lerr.Reason)
		case "not_found":
			writeError(w, http.StatusNotFound, lerr.Kind, lerr.Reason)
		default:
			writeError(w, http.StatusInternalServerError, lerr.Kind, lerr.Reason)
		}
		return
	}
	writeError(w, http.StatusInternalServerError, "internal", err.Error())
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Projects ---

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		projects, err := s.manager.ListProjects()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, projects)
	case http.MethodPost:
		var p types.Project
		if err := decodeBody(r, &p); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		p.ID = uuid.New().String()
		p.CreatedAt = time.Now()
		p.UpdatedAt = p.CreatedAt
		if err := s.manager.CreateProject(&p); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		metrics.ProjectsTotal.Inc()
		writeJSON(w, http.StatusCreated, p)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
	}
}

func (s *Server) handleProjectByID(w http.ResponseWriter, r *http.Request) {
	id := pathSuffix(r.URL.Path, "/v1/projects/")
	switch r.Method {
	case http.MethodGet:
		p, err := s.manager.GetProject(id)
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodDelete:
		if err := s.teardown.ArchiveProject(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		metrics.ProjectsTotal.Dec()
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
	}
}

// --- Environments ---

func (s *Server) handleEnvironments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		projectID := r.URL.Query().Get("project_id")
		envs, err := s.manager.ListEnvironmentsByProject(projectID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, envs)
	case http.MethodPost:
		var e types.Environment
		if err := decodeBody(r, &e); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		e.ID = uuid.New().String()
		e.CreatedAt = time.Now()
		if err := s.manager.CreateEnvironment(&e); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		metrics.EnvironmentsTotal.Inc()
		writeJSON(w, http.StatusCreated, e)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
	}
}

// handleEnvironmentByID dispatches /v1/environments/<id>[/clone].
func (s *Server) handleEnvironmentByID(w http.ResponseWriter, r *http.Request) {
	rest := pathSuffix(r.URL.Path, "/v1/environments/")
	id, sub := splitFirstSegment(rest)

	switch sub {
	case "":
		s.handleEnvironmentRoot(w, r, id)
	case "clone":
		s.handleEnvironmentClone(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not_found", rest)
	}
}

func (s *Server) handleEnvironmentRoot(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		e, err := s.manager.GetEnvironment(id)
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, e)
	case http.MethodDelete:
		if err := s.teardown.ArchiveEnvironment(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		metrics.EnvironmentsTotal.Dec()
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
	}
}

// handleEnvironmentClone implements the Environment Cloner (spec.md §4.8):
// POST {"name": "...", "deploy_services": bool} forks sourceEnvironmentID
// into a new environment with the same services queued as pending changes.
func (s *Server) handleEnvironmentClone(w http.ResponseWriter, r *http.Request, sourceEnvironmentID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
		return
	}
	var req struct {
		Name           string `json:"name"`
		DeployServices bool   `json:"deploy_services"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	env, err := s.cloner.Clone(r.Context(), sourceEnvironmentID, req.Name, req.DeployServices)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	metrics.EnvironmentsTotal.Inc()
	writeJSON(w, http.StatusCreated, env)
}

// --- Services ---

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		environmentID := r.URL.Query().Get("environment_id")
		services, err := s.manager.ListServicesByEnvironment(environmentID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, services)
	case http.MethodPost:
		var svc types.Service
		if err := decodeBody(r, &svc); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		svc.ID = uuid.New().String()
		svc.DeployToken = uuid.New().String()
		svc.CreatedAt = time.Now()
		svc.UpdatedAt = svc.CreatedAt
		if err := s.manager.CreateService(&svc); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		metrics.ServicesTotal.Inc()
		writeJSON(w, http.StatusCreated, svc)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
	}
}

// handleServiceByID dispatches /v1/services/<id>[/changes|/apply].
func (s *Server) handleServiceByID(w http.ResponseWriter, r *http.Request) {
	rest := pathSuffix(r.URL.Path, "/v1/services/")
	id, sub := splitFirstSegment(rest)

	switch sub {
	case "":
		s.handleServiceRoot(w, r, id)
	case "changes":
		s.handleServiceChanges(w, r, id)
	case "apply":
		s.handleServiceApply(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not_found", rest)
	}
}

func (s *Server) handleServiceRoot(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		svc, err := s.manager.GetService(id)
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, svc)
	case http.MethodDelete:
		svc, err := s.manager.GetService(id)
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		if err := s.teardown.ArchiveService(r.Context(), svc); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		metrics.ServicesTotal.Dec()
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
	}
}

// handleServiceChanges implements the Change Ledger's request-change entry
// point (spec.md §4.1): POST a {field, type, item_id, new_value} body,
// validated and queued against the service's pending set.
func (s *Server) handleServiceChanges(w http.ResponseWriter, r *http.Request, serviceID string) {
	switch r.Method {
	case http.MethodGet:
		changes, err := s.manager.ListPendingChanges(serviceID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, changes)
	case http.MethodPost:
		svc, err := s.manager.GetService(serviceID)
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		var change types.Change
		if err := decodeBody(r, &change); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		change.ID = uuid.New().String()
		change.ServiceID = serviceID
		change.CreatedAt = time.Now()
		if err := s.ledger.RequestChange(svc, &change); err != nil {
			writeLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, change)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
	}
}

// handleServiceApply implements spec.md §4.6: apply every pending change
// into a new Snapshot+Deployment, then hand the deployment to the
// orchestrator in its own goroutine so the HTTP call returns immediately.
func (s *Server) handleServiceApply(w http.ResponseWriter, r *http.Request, serviceID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
		return
	}
	svc, err := s.manager.GetService(serviceID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}

	_, deployment, err := s.ledger.Apply(svc)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	logger := log.WithDeployment(svc.ID, deployment.ID)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error().Interface("panic", rec).Msg("orchestrator run panicked")
			}
		}()
		s.orch.Run(context.Background(), deployment.ID)
	}()

	writeJSON(w, http.StatusAccepted, deployment)
}

// --- Deployments ---

// handleDeploymentByID dispatches /v1/deployments/<id>[/cancel].
func (s *Server) handleDeploymentByID(w http.ResponseWriter, r *http.Request) {
	rest := pathSuffix(r.URL.Path, "/v1/deployments/")
	id, sub := splitFirstSegment(rest)

	switch sub {
	case "":
		s.handleDeploymentRoot(w, r, id)
	case "cancel":
		s.handleDeploymentCancel(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not_found", rest)
	}
}

func (s *Server) handleDeploymentRoot(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
		return
	}
	dep, err := s.manager.GetDeployment(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dep)
}

func (s *Server) handleDeploymentCancel(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
		return
	}
	if err := s.orch.Cancel(id); err != nil {
		writeError(w, http.StatusConflict, "cancel_failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// --- Nodes ---

// handleNodes is read-only: the single node this control plane manages is
// registered once at `cluster init` time, not through routine API traffic.
func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
		return
	}
	nodes, err := s.manager.ListNodes()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

// --- Secrets ---

type createSecretRequest struct {
	Name string `json:"name"`
	Data string `json:"data"` // plaintext, base64 not required over TLS-terminated HTTP
}

// secretResponse omits Data: GetSecretByName/CreateSecret return the
// encrypted record, but the ciphertext has no business leaving this process.
type secretResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) handleSecrets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
		return
	}
	var req createSecretRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	secret, err := s.manager.CreateSecret(req.Name, []byte(req.Data))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, secretResponse{ID: secret.ID, Name: secret.Name, CreatedAt: secret.CreatedAt.Format(timeFormat)})
}

func (s *Server) handleSecretByID(w http.ResponseWriter, r *http.Request) {
	name := pathSuffix(r.URL.Path, "/v1/secrets/")
	switch r.Method {
	case http.MethodGet:
		secret, err := s.manager.GetSecretByName(name)
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, secretResponse{ID: secret.ID, Name: secret.Name, CreatedAt: secret.CreatedAt.Format(timeFormat)})
	case http.MethodDelete:
		secret, err := s.manager.GetSecretByName(name)
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		if err := s.manager.DeleteSecret(secret.ID); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
	}
}

const timeFormat = time.RFC3339

// --- path helpers ---

func pathSuffix(path, prefix string) string {
	if len(path) <= len(prefix) {
		return ""
	}
	return path[len(prefix):]
}

// splitFirstSegment splits "id/sub/..." into ("id", "sub"); a bare "id"
// returns ("id", "").
func splitFirstSegment(rest string) (string, string) {
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], rest[i+1:]
		}
	}
	return rest, ""
}
