package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/taskbridge/taskbridge/pkg/api"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        2 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:  srv.URL,
		Token:    "test-token",
		PageSize: 2,
		Retry:    fastRetry(),
	}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClientRequiresCredentials(t *testing.T) {
	if _, err := NewClient(Config{Token: "t"}, nil); !api.IsConfigurationError(err) {
		t.Fatalf("missing base URL: err = %v, want ConfigurationError", err)
	}
	if _, err := NewClient(Config{BaseURL: "http://example.test"}, nil); !api.IsConfigurationError(err) {
		t.Fatalf("missing token: err = %v, want ConfigurationError", err)
	}
}

func TestRequestsCarryBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, "[]")
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if gotAuth != "Bearer test-token" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
}

func TestListTasksFollowsPagination(t *testing.T) {
	// Page size is 2; serve 2 + 2 + 1 tasks over three pages.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		var tasks []Task
		switch page {
		case "1":
			tasks = []Task{{ID: "t1"}, {ID: "t2"}}
		case "2":
			tasks = []Task{{ID: "t3"}, {ID: "t4"}}
		case "3":
			tasks = []Task{{ID: "t5"}}
		}
		json.NewEncoder(w).Encode(tasks)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	tasks, err := c.ListTasks(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 5 {
		t.Fatalf("got %d tasks, want 5", len(tasks))
	}
	if tasks[4].ID != "t5" {
		t.Fatalf("last task = %s, want t5", tasks[4].ID)
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"id":"p1","name":"One"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	p, err := c.GetProject(context.Background(), "p1")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if p.Name != "One" {
		t.Fatalf("project name = %q", p.Name)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("server saw %d calls, want 3", got)
	}
}

func TestRetriesRateLimiting(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, "[]")
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("server saw %d calls, want 2", got)
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such project", http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.GetProject(context.Background(), "missing")

	var rse *api.RemoteServiceError
	if !errors.As(err, &rse) {
		t.Fatalf("err = %v, want RemoteServiceError", err)
	}
	if rse.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rse.StatusCode)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("server saw %d calls, want 1 (4xx is final)", got)
	}
}

func TestRetryBudgetExhausts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "still broken", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("Ping succeeded against a permanently failing server")
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("server saw %d calls, want the full budget of 3", got)
	}
}

func TestCreateTaskPostsJSON(t *testing.T) {
	var received Task
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		json.NewDecoder(r.Body).Decode(&received)
		received.ID = "assigned-1"
		json.NewEncoder(w).Encode(received)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	created, err := c.CreateTask(context.Background(), Task{ProjectID: "proj-1", Title: "New task"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if created.ID != "assigned-1" {
		t.Fatalf("created id = %q", created.ID)
	}
	if received.Title != "New task" {
		t.Fatalf("server received title %q", received.Title)
	}
}
