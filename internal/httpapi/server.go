package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/wikiops/provisr/internal/provisr"
)

const accessRequestSchema = `{
	"type": "object",
	"required": ["lan_id", "email", "domain", "manager", "requester", "full_name", "space_key", "access"],
	"properties": {
		"lan_id": {"type": "string"},
		"email": {"type": "string"},
		"domain": {"type": "string"},
		"manager": {"type": "string"},
		"requester": {"type": "string"},
		"full_name": {"type": "string"},
		"space_key": {"type": "string"},
		"access": {"type": "string", "enum": ["read", "dev", "admin"]}
	}
}`

const spaceRequestSchema = `{
	"type": "object",
	"required": ["space_name", "space_key", "space_admin"],
	"properties": {
		"space_name": {"type": "string"},
		"space_key": {"type": "string"},
		"space_admin": {"type": "string"},
		"description": {"type": "string"}
	}
}`

type ServerConfig struct {
	MaxBodyBytes int64
	// WSOriginPatterns is passed through to the websocket accept check.
	WSOriginPatterns []string
}

// Server exposes the submission and query API plus the real-time event
// channel. Submission never blocks on platform calls: the runner persists
// the pending record and hands reconciliation to a worker.
type Server struct {
	store        *provisr.Store
	runner       *provisr.WorkflowRunner
	bus          *provisr.EventBus
	cfg          ServerConfig
	accessSchema *jsonschema.Schema
	spaceSchema  *jsonschema.Schema
}

func NewServer(store *provisr.Store, runner *provisr.WorkflowRunner, bus *provisr.EventBus) *Server {
	return NewServerWithConfig(store, runner, bus, ServerConfig{})
}

func NewServerWithConfig(store *provisr.Store, runner *provisr.WorkflowRunner, bus *provisr.EventBus, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Server{
		store:        store,
		runner:       runner,
		bus:          bus,
		cfg:          cfg,
		accessSchema: mustCompileSchema("access-request.json", accessRequestSchema),
		spaceSchema:  mustCompileSchema("space-request.json", spaceRequestSchema),
	}
}

func mustCompileSchema(name, source string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
	if err != nil {
		panic(fmt.Sprintf("parse schema %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return schema
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/health" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case r.URL.Path == "/api/requests" && r.Method == http.MethodGet:
		s.handleList(w)
	case r.URL.Path == "/api/requests" && r.Method == http.MethodPost:
		s.handleSubmit(w, r, provisr.KindAccess, s.accessSchema)
	case r.URL.Path == "/api/space-requests" && r.Method == http.MethodPost:
		s.handleSubmit(w, r, provisr.KindSpaceCreation, s.spaceSchema)
	case r.URL.Path == "/api/stats" && r.Method == http.MethodGet:
		s.handleStats(w)
	case r.URL.Path == "/api/events" && r.Method == http.MethodGet:
		s.handleEvents(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

// handleSubmit validates the payload against the kind's schema before any
// record is created; only structurally complete payloads enter the store.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, kind provisr.Kind, schema *jsonschema.Schema) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return
	}
	decoded, err := jsonschema.UnmarshalJSON(strings.NewReader(string(body)))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	if err := schema.Validate(decoded); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}
	payload, ok := decoded.(map[string]any)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "payload must be a json object")
		return
	}

	req, err := s.runner.Submit(kind, payload)
	if err != nil {
		var persistErr *provisr.PersistenceError
		if errors.As(err, &persistErr) {
			writeError(w, http.StatusInternalServerError, "persistence_error", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleList(w http.ResponseWriter) {
	requests, err := s.store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "persistence_error", err.Error())
		return
	}
	if requests == nil {
		requests = []provisr.Request{}
	}
	writeJSON(w, http.StatusOK, requests)
}

func (s *Server) handleStats(w http.ResponseWriter) {
	stats, err := s.store.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "persistence_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": message,
	})
}
