package clienttest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ethereum-optimism/infra/op-reporter/types"
)

// StoredItem is an item as seen by the fake collector.
type StoredItem struct {
	ID       string
	ParentID string
	LaunchID string
	Request  types.StartItemRequest
	Update   *types.UpdateItemRequest
	Finish   *types.FinishItemRequest
}

// StoredLaunch is a launch as seen by the fake collector.
type StoredLaunch struct {
	ID      string
	Request types.StartLaunchRequest
	Finish  *types.FinishLaunchRequest
}

// Server is an HTTP collector backed by memory, speaking the same API as
// client.HTTPClient.
type Server struct {
	*httptest.Server

	Project string

	mu       sync.Mutex
	launches map[string]*StoredLaunch
	items    map[string]*StoredItem
	order    []string
	logs     []types.LogRequest
	auth     []string

	// FailNext, when above zero, makes that many requests answer 503.
	FailNext int
}

// NewServer starts a fake collector for project and closes it on test cleanup.
func NewServer(t testing.TB, project string) *Server {
	s := &Server{
		Project:  project,
		launches: make(map[string]*StoredLaunch),
		items:    make(map[string]*StoredItem),
	}

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1/{project}").Subrouter()
	api.Use(s.middleware)
	api.HandleFunc("/launch", s.startLaunch).Methods(http.MethodPost)
	api.HandleFunc("/launch/{id}/finish", s.finishLaunch).Methods(http.MethodPut)
	api.HandleFunc("/item", s.startItem).Methods(http.MethodPost)
	api.HandleFunc("/item/{parent}", s.startItem).Methods(http.MethodPost)
	api.HandleFunc("/item/{id}/update", s.updateItem).Methods(http.MethodPut)
	api.HandleFunc("/item/{id}/finish", s.finishItem).Methods(http.MethodPut)
	api.HandleFunc("/log", s.addLog).Methods(http.MethodPost)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if mux.Vars(r)["project"] != s.Project {
			http.Error(w, "project not found", http.StatusNotFound)
			return
		}
		s.mu.Lock()
		s.auth = append(s.auth, r.Header.Get("Authorization"))
		fail := s.FailNext > 0
		if fail {
			s.FailNext--
		}
		s.mu.Unlock()
		if fail {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) startLaunch(w http.ResponseWriter, r *http.Request) {
	var req types.StartLaunchRequest
	if !decode(w, r, &req) {
		return
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.launches[id] = &StoredLaunch{ID: id, Request: req}
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, types.EntryCreated{ID: id})
}

func (s *Server) finishLaunch(w http.ResponseWriter, r *http.Request) {
	var req types.FinishLaunchRequest
	if !decode(w, r, &req) {
		return
	}
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	launch, ok := s.launches[id]
	if ok {
		launch.Finish = &req
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, "launch not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, types.OperationCompleted{Message: "launch " + id + " finished"})
}

func (s *Server) startItem(w http.ResponseWriter, r *http.Request) {
	var req types.StartItemRequest
	if !decode(w, r, &req) {
		return
	}
	parent := mux.Vars(r)["parent"]
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.launches[req.LaunchID]; !ok {
		http.Error(w, "launch not found", http.StatusNotFound)
		return
	}
	if parent != "" {
		if _, ok := s.items[parent]; !ok {
			http.Error(w, "parent not found", http.StatusNotFound)
			return
		}
	}
	id := uuid.NewString()
	s.items[id] = &StoredItem{ID: id, ParentID: parent, LaunchID: req.LaunchID, Request: req}
	s.order = append(s.order, id)
	writeJSON(w, http.StatusCreated, types.EntryCreated{ID: id})
}

func (s *Server) updateItem(w http.ResponseWriter, r *http.Request) {
	var req types.UpdateItemRequest
	if !decode(w, r, &req) {
		return
	}
	s.mu.Lock()
	item, ok := s.items[mux.Vars(r)["id"]]
	if ok {
		item.Update = &req
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, "item not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, types.OperationCompleted{Message: "updated"})
}

func (s *Server) finishItem(w http.ResponseWriter, r *http.Request) {
	var req types.FinishItemRequest
	if !decode(w, r, &req) {
		return
	}
	s.mu.Lock()
	item, ok := s.items[mux.Vars(r)["id"]]
	if ok {
		item.Finish = &req
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, "item not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, types.OperationCompleted{Message: "finished"})
}

func (s *Server) addLog(w http.ResponseWriter, r *http.Request) {
	var req types.LogRequest
	if !decode(w, r, &req) {
		return
	}
	s.mu.Lock()
	s.logs = append(s.logs, req)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, types.EntryCreated{ID: uuid.NewString()})
}

// Launches returns a snapshot of the stored launches.
func (s *Server) Launches() []StoredLaunch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StoredLaunch, 0, len(s.launches))
	for _, l := range s.launches {
		out = append(out, *l)
	}
	return out
}

// Items returns a snapshot of the stored items in creation order.
func (s *Server) Items() []StoredItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StoredItem, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.items[id])
	}
	return out
}

// Logs returns a snapshot of the stored log entries.
func (s *Server) Logs() []types.LogRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.LogRequest, len(s.logs))
	copy(out, s.logs)
	return out
}

// AuthHeaders returns the Authorization header of every request received.
func (s *Server) AuthHeaders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.auth))
	copy(out, s.auth)
	return out
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
