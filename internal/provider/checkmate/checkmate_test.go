package checkmate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relohq/relo/internal/provider"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Options{BaseURL: srv.URL, APIKey: "key"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestCreateSuite(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/suites" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "key" {
			t.Errorf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`{"id":"suite-9","web_url":"https://qa.example.com/suites/suite-9"}`))
	}))

	suite, err := c.CreateSuite(context.Background(), provider.SuiteRequest{
		ProjectID: "mobile",
		Name:      "Release 7.0.0 regression",
		Version:   "7.0.0",
	})
	if err != nil {
		t.Fatalf("CreateSuite: %v", err)
	}
	if suite.ID != "suite-9" {
		t.Errorf("ID = %q", suite.ID)
	}
	if gotBody["version"] != "7.0.0" {
		t.Errorf("version in payload = %v", gotBody["version"])
	}
}

func TestCreateRun(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/suites/suite-9/runs" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"id":"run-3","web_url":"https://qa.example.com/runs/run-3"}`))
	}))

	run, err := c.CreateRun(context.Background(), provider.RunRequest{
		SuiteID: "suite-9",
		Name:    "RC2",
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.ID != "run-3" {
		t.Errorf("ID = %q", run.ID)
	}
}

func TestGetRunStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		wantDone bool
		wantRate float64
	}{
		{"running", `{"status":"running","passed":4,"total":10}`, false, 0.4},
		{"completed with counts", `{"status":"completed","passed":9,"total":10}`, true, 0.9},
		{"completed with rate", `{"status":"passed","pass_rate":1}`, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte(tt.body))
			}))

			st, err := c.GetRunStatus(context.Background(), "run-3")
			if err != nil {
				t.Fatalf("GetRunStatus: %v", err)
			}
			if st.Done != tt.wantDone {
				t.Errorf("Done = %v, want %v", st.Done, tt.wantDone)
			}
			if st.PassRate != tt.wantRate {
				t.Errorf("PassRate = %v, want %v", st.PassRate, tt.wantRate)
			}
		})
	}
}

func TestErrorStatusSurfaces(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	if _, err := c.CreateSuite(context.Background(), provider.SuiteRequest{Name: "x"}); err == nil {
		t.Fatal("expected error for 403")
	}
}
