package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gantrydev/gantry/internal/deploy"
	"github.com/gantrydev/gantry/internal/domain"
	"github.com/gantrydev/gantry/internal/pipeline"
	"github.com/gantrydev/gantry/internal/repository"
	"github.com/gantrydev/gantry/internal/schedule"
	"github.com/gantrydev/gantry/internal/ws"

	"github.com/google/uuid"
)

const healthCheckTimeout = 2 * time.Second

// Router wires HTTP endpoints to the orchestrator services.
type Router struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	projects    repository.ProjectRepository
	deployments repository.DeploymentRepository
	engine      *pipeline.Engine
	deploy      *deploy.Service
	schedules   *schedule.Service
	hub         *ws.Hub
	upgrader    websocket.Upgrader
	dbHealth    func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, projects repository.ProjectRepository, deployments repository.DeploymentRepository,
	engine *pipeline.Engine, deploySvc *deploy.Service, scheduleSvc *schedule.Service, hub *ws.Hub,
	dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:         http.NewServeMux(),
		logger:      logger,
		projects:    projects,
		deployments: deployments,
		engine:      engine,
		deploy:      deploySvc,
		schedules:   scheduleSvc,
		hub:         hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		dbHealth: dbHealth,
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.instrument("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/projects", r.instrument("/projects", r.handleProjects))
	r.mux.HandleFunc("/projects/", r.instrument("/projects/:id", r.handleProjectSubroutes))
	r.mux.HandleFunc("/deployments/", r.instrument("/deployments/:id", r.handleDeploymentSubroutes))
	r.mux.HandleFunc("/schedules", r.instrument("/schedules", r.handleSchedules))
	r.mux.HandleFunc("/schedules/", r.instrument("/schedules/:id", r.handleScheduleSubroutes))
	r.mux.HandleFunc("/findings/", r.instrument("/findings/:id", r.handleFindingSubroutes))
	r.mux.HandleFunc("/ws/events", r.handleEventsWS)
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()
	if r.dbHealth != nil {
		if err := r.dbHealth(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		r.handleCreateProject(w, req)
	case http.MethodGet:
		projects, err := r.projects.ListProjects(req.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, projects)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleCreateProject(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Name             string `json:"name"`
		RepoURL          string `json:"repo_url"`
		DefaultBranch    string `json:"default_branch"`
		BuildCommand     string `json:"build_command"`
		DeployCommand    string `json:"deploy_command"`
		PipelineTemplate string `json:"pipeline_template"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(payload.Name) == "" || strings.TrimSpace(payload.RepoURL) == "" {
		writeError(w, http.StatusBadRequest, "name and repo_url are required")
		return
	}
	branch := payload.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	project := &domain.Project{
		ID:               uuid.NewString(),
		Name:             payload.Name,
		RepoURL:          payload.RepoURL,
		DefaultBranch:    branch,
		BuildCommand:     payload.BuildCommand,
		DeployCommand:    payload.DeployCommand,
		PipelineTemplate: payload.PipelineTemplate,
		CreatedAt:        time.Now().UTC(),
	}
	if err := r.projects.CreateProject(req.Context(), project); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (r *Router) handleProjectSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/projects/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 1 || parts[0] == "" {
		r.notFound(w)
		return
	}
	projectID := parts[0]
	switch {
	case len(parts) == 1 && req.Method == http.MethodGet:
		project, err := r.projects.GetProjectByID(req.Context(), projectID)
		if err != nil {
			r.writeRepoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, project)
	case len(parts) == 2 && parts[1] == "deployments":
		r.handleProjectDeployments(w, req, projectID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleProjectDeployments(w http.ResponseWriter, req *http.Request, projectID string) {
	switch req.Method {
	case http.MethodGet:
		limit := 0
		if raw := req.URL.Query().Get("limit"); raw != "" {
			limit, _ = strconv.Atoi(raw)
		}
		deployments, err := r.deployments.ListDeploymentsByProject(req.Context(), projectID, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, deployments)
	case http.MethodPost:
		var payload struct {
			EnvironmentID string `json:"environment_id"`
			CommitSHA     string `json:"commit_sha"`
			TriggeredBy   string `json:"triggered_by"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		deployment, err := r.deploy.Create(req.Context(), projectID, payload.TriggeredBy, deploy.CreateOptions{
			EnvironmentID: payload.EnvironmentID,
			CommitSHA:     payload.CommitSHA,
		})
		if err != nil {
			r.writeRepoError(w, err)
			return
		}
		r.runAsync(deployment)
		writeJSON(w, http.StatusAccepted, deployment)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleDeploymentSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/deployments/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 1 || parts[0] == "" {
		r.notFound(w)
		return
	}
	deploymentID := parts[0]
	if len(parts) == 1 {
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		deployment, err := r.deployments.GetDeploymentByID(req.Context(), deploymentID)
		if err != nil {
			r.writeRepoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, deployment)
		return
	}
	switch parts[1] {
	case "stages":
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		stages, err := r.engine.ListStages(req.Context(), deploymentID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, stages)
	case "cancel":
		r.handleCancelDeployment(w, req, deploymentID)
	case "rollback":
		r.handleRollback(w, req, deploymentID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleCancelDeployment(w http.ResponseWriter, req *http.Request, deploymentID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	deployment, err := r.deployments.GetDeploymentByID(req.Context(), deploymentID)
	if err != nil {
		r.writeRepoError(w, err)
		return
	}
	if err := r.deploy.Cancel(req.Context(), deployment); err != nil {
		if errors.Is(err, deploy.ErrInvalidState) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, deployment)
}

func (r *Router) handleRollback(w http.ResponseWriter, req *http.Request, targetID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Actor  string `json:"actor"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	target, err := r.deployments.GetDeploymentByID(req.Context(), targetID)
	if err != nil {
		r.writeRepoError(w, err)
		return
	}
	rollback, err := r.deploy.CreateRollback(req.Context(), target.ProjectID, targetID, payload.Actor, payload.Reason)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	r.runAsync(rollback)
	writeJSON(w, http.StatusAccepted, rollback)
}

func (r *Router) handleSchedules(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		ProjectID         string `json:"project_id"`
		EnvironmentID     string `json:"environment_id"`
		UserID            string `json:"user_id"`
		ScheduledAt       string `json:"scheduled_at"`
		IsRecurring       bool   `json:"is_recurring"`
		RecurrencePattern string `json:"recurrence_pattern"`
		Description       string `json:"description"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	scheduledAt, err := time.Parse(time.RFC3339, payload.ScheduledAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "scheduled_at must be RFC3339")
		return
	}
	sched, err := r.schedules.Create(req.Context(), schedule.CreateInput{
		ProjectID:         payload.ProjectID,
		EnvironmentID:     payload.EnvironmentID,
		UserID:            payload.UserID,
		ScheduledAt:       scheduledAt,
		IsRecurring:       payload.IsRecurring,
		RecurrencePattern: domain.RecurrencePattern(payload.RecurrencePattern),
		Description:       payload.Description,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sched)
}

func (r *Router) handleScheduleSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/schedules/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 1 || parts[0] == "" {
		r.notFound(w)
		return
	}
	scheduleID := parts[0]
	if len(parts) == 2 && parts[1] == "cancel" {
		if req.Method != http.MethodPost {
			r.methodNotAllowed(w)
			return
		}
		if err := r.schedules.Cancel(req.Context(), scheduleID); err != nil {
			if errors.Is(err, schedule.ErrInvalidState) {
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			r.writeRepoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
		return
	}
	r.notFound(w)
}

func (r *Router) handleFindingSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/findings/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "ack" {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Actor  string `json:"actor"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := r.deploy.AcknowledgeFinding(req.Context(), parts[0], payload.Actor, payload.Reason); err != nil {
		r.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func (r *Router) handleEventsWS(w http.ResponseWriter, req *http.Request) {
	projectID := req.URL.Query().Get("project_id")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project_id query parameter required")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(projectID, client)

	// Hold the connection open; unregister when the peer goes away.
	go func() {
		defer func() {
			r.hub.Unregister(projectID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// runAsync executes a deployment off the request goroutine. The lifecycle
// bounds its own runtime; the request context would cancel it on return.
func (r *Router) runAsync(deployment *domain.Deployment) {
	go func() {
		r.deploy.Execute(context.Background(), deployment)
	}()
}

func (r *Router) writeRepoError(w http.ResponseWriter, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		r.notFound(w)
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "resource not found")
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
