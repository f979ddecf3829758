package enterprise

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gorilla/mux"
)

// MockServer is a gorilla/mux-backed stand-in for an enterprise endpoint,
// used only in tests: GET returns the last value POSTed to an address (or
// 404 before any POST), POST records it.
type MockServer struct {
	*httptest.Server

	mu     sync.Mutex
	values map[string][]byte
}

func NewMockServer() *MockServer {
	m := &MockServer{values: map[string][]byte{}}
	r := mux.NewRouter()
	r.HandleFunc("/{resource:.*}", m.handle)
	m.Server = httptest.NewServer(r)
	return m
}

func (m *MockServer) handle(w http.ResponseWriter, r *http.Request) {
	resource := "/" + mux.Vars(r)["resource"]

	switch r.Method {
	case http.MethodGet:
		m.mu.Lock()
		v, ok := m.values[resource]
		m.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(v)
	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		m.values[resource] = body
		m.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// Set seeds a resource's value directly, bypassing POST.
func (m *MockServer) Set(resource string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[resource] = value
}
