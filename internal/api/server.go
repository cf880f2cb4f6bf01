// Package api serves the daemon's read-only status API. All fleet
// mutations flow through spec files in the watched directory; the API
// exists for operator inspection only.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/registry"
	"github.com/wardenhq/warden/internal/specfile"
)

// Version is the daemon version reported by /health.
const Version = "0.3.0"

// Server provides the HTTP status API.
type Server struct {
	registry *registry.Registry
	opsDir   string
	addr     string
	log      *zap.Logger
	server   *http.Server
}

// SpecStatus is one watched-directory entry with its classified state.
type SpecStatus struct {
	Name     string           `json:"name"`
	State    models.SpecState `json:"state"`
	Modified time.Time        `json:"modified"`
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

// NewServer creates a status API server.
func NewServer(reg *registry.Registry, opsDir, addr string, log *zap.Logger) *Server {
	return &Server{
		registry: reg,
		opsDir:   opsDir,
		addr:     addr,
		log:      log,
	}
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/agents", s.handleAgents)
	mux.HandleFunc("/agents/", s.handleAgentByName)
	mux.HandleFunc("/specs", s.handleSpecs)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.log.Info("status API listening", zap.String("addr", s.addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.registry.Ping(ctx); err != nil {
		health.OK = false
		health.DB = err.Error()
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, health)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	agents, err := s.registry.ListAgents()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if agents == nil {
		agents = []models.AgentDefinition{}
	}
	writeJSON(w, http.StatusOK, agents)
}

// handleAgentByName handles /agents/{name} and /agents/{name}/tasks.
func (s *Server) handleAgentByName(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/agents/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "agent name required", http.StatusBadRequest)
		return
	}

	name := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	agent, err := s.registry.GetAgent(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if agent == nil {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}

	switch action {
	case "":
		writeJSON(w, http.StatusOK, agent)
	case "tasks":
		tasks, err := s.registry.TasksForOwner(agent.Folder)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if tasks == nil {
			tasks = []models.ScheduledTask{}
		}
		writeJSON(w, http.StatusOK, tasks)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) handleSpecs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entries, err := os.ReadDir(s.opsDir)
	if err != nil && !os.IsNotExist(err) {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	specs := []SpecStatus{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		state, ok := specfile.Classify(entry.Name())
		if !ok {
			continue
		}
		status := SpecStatus{Name: entry.Name(), State: state}
		if info, err := entry.Info(); err == nil {
			status.Modified = info.ModTime().UTC()
		}
		specs = append(specs, status)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })

	writeJSON(w, http.StatusOK, specs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
