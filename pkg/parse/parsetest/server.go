// Package parsetest provides an in-memory Parse-compatible backend for
// exercising the gateway without a hosted document store.
package parsetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// Server is a fake document store backed by in-memory class collections.
type Server struct {
	mu      sync.Mutex
	classes map[string][]map[string]any
	seq     int
	httpSrv *httptest.Server

	// Intercept, when set, can short-circuit a request with an HTTP status.
	// Return 0 to let the request through.
	Intercept func(method, class, id string) int
}

// New starts a fake backend and registers cleanup with the test.
func New(t *testing.T) *Server {
	t.Helper()
	s := &Server{classes: map[string][]map[string]any{}}
	s.httpSrv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.httpSrv.Close)
	return s
}

// URL returns the base URL of the fake backend.
func (s *Server) URL() string { return s.httpSrv.URL }

// Close shuts the backend down early, simulating connectivity loss.
func (s *Server) Close() { s.httpSrv.Close() }

// Seed inserts a record directly and returns its objectId.
func (s *Server) Seed(class string, fields map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(class, fields)
}

// Record returns a stored record by id, or nil.
func (s *Server) Record(class, id string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.classes[class] {
		if rec["objectId"] == id {
			out := map[string]any{}
			for k, v := range rec {
				out[k] = v
			}
			return out
		}
	}
	return nil
}

// Count returns the number of records in a class.
func (s *Server) Count(class string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.classes[class])
}

func (s *Server) insert(class string, fields map[string]any) string {
	s.seq++
	id := fmt.Sprintf("obj%04d", s.seq)
	rec := map[string]any{}
	for k, v := range fields {
		rec[k] = v
	}
	rec["objectId"] = id
	if _, ok := rec["createdAt"]; !ok {
		rec["createdAt"] = time.Now().UTC().Add(time.Duration(s.seq) * time.Millisecond).Format(time.RFC3339Nano)
	}
	s.classes[class] = append(s.classes[class], rec)
	return id
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/classes/"), "/")
	class := parts[0]
	id := ""
	if len(parts) > 1 {
		id = parts[1]
	}
	if s.Intercept != nil {
		if status := s.Intercept(r.Method, class, id); status != 0 {
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]any{"code": status, "error": "intercepted"})
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && id == "":
		s.handleList(w, r, class)
	case r.Method == http.MethodGet:
		s.handleGet(w, class, id)
	case r.Method == http.MethodPost:
		s.handleCreate(w, r, class)
	case r.Method == http.MethodPut:
		s.handleUpdate(w, r, class, id)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, class string) {
	var where map[string]any
	if raw := r.URL.Query().Get("where"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &where); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}
	results := make([]map[string]any, 0)
	for _, rec := range s.classes[class] {
		if matches(rec, where) {
			results = append(results, rec)
		}
	}
	if order := r.URL.Query().Get("order"); order == "-createdAt" {
		sort.SliceStable(results, func(i, j int) bool {
			return fmt.Sprint(results[i]["createdAt"]) > fmt.Sprint(results[j]["createdAt"])
		})
	}
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		if limit, err := strconv.Atoi(rawLimit); err == nil && limit < len(results) {
			results = results[:limit]
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
}

func (s *Server) handleGet(w http.ResponseWriter, class, id string) {
	for _, rec := range s.classes[class] {
		if rec["objectId"] == id {
			_ = json.NewEncoder(w).Encode(rec)
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(map[string]any{"code": 101, "error": "object not found"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, class string) {
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	id := s.insert(class, fields)
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{"objectId": id})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, class, id string) {
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	for _, rec := range s.classes[class] {
		if rec["objectId"] != id {
			continue
		}
		for k, v := range fields {
			if op, ok := incrementOp(v); ok {
				current, _ := toFloat(rec[k])
				rec[k] = current + op
				continue
			}
			rec[k] = v
		}
		rec["updatedAt"] = time.Now().UTC().Format(time.RFC3339Nano)
		_ = json.NewEncoder(w).Encode(map[string]any{"updatedAt": rec["updatedAt"]})
		return
	}
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(map[string]any{"code": 101, "error": "object not found"})
}

func matches(rec, where map[string]any) bool {
	for k, want := range where {
		got, ok := rec[k]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func incrementOp(v any) (float64, bool) {
	m, ok := v.(map[string]any)
	if !ok || m["__op"] != "Increment" {
		return 0, false
	}
	amount, _ := toFloat(m["amount"])
	return amount, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
