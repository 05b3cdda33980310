package remote

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeStore is an in-memory realtime store served over httptest. Values
// live at flat paths; reading a parent path returns an object of its
// direct children.
type fakeStore struct {
	mu       sync.Mutex
	values   map[string]json.RawMessage
	versions map[string]int
	requests []string

	// failNext makes the next n requests answer with status.
	failNext   int
	failStatus int

	// conflicts makes the next n If-Match writes answer 412.
	conflicts int
}

func newFakeStore(t *testing.T) (*fakeStore, *httptest.Server) {
	t.Helper()
	fs := &fakeStore{values: map[string]json.RawMessage{}, versions: map[string]int{}}
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)
	return fs, srv
}

func (f *fakeStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), ".json")
	f.requests = append(f.requests, r.Method+" "+path)

	if f.failNext > 0 {
		f.failNext--
		http.Error(w, "injected failure", f.failStatus)
		return
	}
	if r.Header.Get("Authorization") == "Bearer wrong" {
		http.Error(w, "permission denied", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		if path == ".info/connected" {
			fmt.Fprint(w, "true")
			return
		}
		w.Header().Set("ETag", f.etag(path))
		if v, ok := f.values[path]; ok {
			w.Write(v)
			return
		}
		children := map[string]json.RawMessage{}
		for k, v := range f.values {
			if rest, ok := strings.CutPrefix(k, path+"/"); ok && !strings.Contains(rest, "/") {
				children[rest] = v
			}
		}
		if len(children) == 0 {
			fmt.Fprint(w, "null")
			return
		}
		json.NewEncoder(w).Encode(children)
	case http.MethodPut:
		if m := r.Header.Get("If-Match"); m != "" {
			if f.conflicts > 0 {
				f.conflicts--
				f.versions[path]++
				w.WriteHeader(http.StatusPreconditionFailed)
				return
			}
			if m != f.etag(path) {
				w.WriteHeader(http.StatusPreconditionFailed)
				return
			}
		}
		body, _ := io.ReadAll(r.Body)
		f.values[path] = json.RawMessage(body)
		f.versions[path]++
		w.Write(body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeStore) etag(path string) string {
	return fmt.Sprintf(`"%s@%d"`, path, f.versions[path])
}

func (f *fakeStore) get(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.values[path])
}

func (f *fakeStore) put(path, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[path] = json.RawMessage(value)
	f.versions[path]++
}

func (f *fakeStore) fail(n, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = n
	f.failStatus = status
}
