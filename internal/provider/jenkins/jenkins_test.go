package jenkins

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relohq/relo/internal/provider"
	"github.com/relohq/relo/internal/release"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Options{BaseURL: srv.URL, User: "relo", APIToken: "token"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, srv
}

func TestTriggerJobReturnsQueueLocation(t *testing.T) {
	t.Parallel()

	var gotPath, gotParam string
	mux := http.NewServeMux()
	mux.HandleFunc("/job/mobile/job/android-release/buildWithParameters", func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotParam = r.PostForm.Get("RELEASE_BRANCH")
		if user, _, ok := r.BasicAuth(); !ok || user != "relo" {
			t.Errorf("missing basic auth, got user %q", user)
		}
		w.Header().Set("Location", "http://jenkins.local/queue/item/42/")
		w.WriteHeader(http.StatusCreated)
	})
	c, _ := newTestClient(t, mux)

	ref, err := c.TriggerJob(context.Background(), provider.JobRequest{
		Job:    "mobile/android-release",
		Ref:    "release/7.0.0",
		Params: map[string]string{"RELEASE_BRANCH": "release/7.0.0"},
	})
	if err != nil {
		t.Fatalf("TriggerJob: %v", err)
	}
	if ref.QueueLocation != "http://jenkins.local/queue/item/42/" {
		t.Errorf("QueueLocation = %q", ref.QueueLocation)
	}
	if gotPath != "/job/mobile/job/android-release/buildWithParameters" {
		t.Errorf("request path = %q", gotPath)
	}
	if gotParam != "release/7.0.0" {
		t.Errorf("RELEASE_BRANCH param = %q", gotParam)
	}
}

func TestTriggerJobRejectsNonCreated(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	if _, err := c.TriggerJob(context.Background(), provider.JobRequest{Job: "missing"}); err == nil {
		t.Fatal("expected error for 404 trigger")
	}
}

func TestGetQueueStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		wantStatus release.WorkflowStatus
		wantRunID  string
	}{
		{
			name:       "still queued",
			body:       `{"why":"Waiting for next available executor"}`,
			wantStatus: release.WorkflowPending,
		},
		{
			name:       "cancelled",
			body:       `{"cancelled":true}`,
			wantStatus: release.WorkflowFailed,
		},
		{
			name:       "executable assigned",
			body:       `{"executable":{"number":7,"url":"http://jenkins.local/job/android/7/"}}`,
			wantStatus: release.WorkflowRunning,
			wantRunID:  "http://jenkins.local/job/android/7/",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte(tt.body))
			}))

			st, err := c.GetQueueStatus(context.Background(), srv.URL+"/queue/item/42")
			if err != nil {
				t.Fatalf("GetQueueStatus: %v", err)
			}
			if st.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", st.Status, tt.wantStatus)
			}
			if st.CIRunID != tt.wantRunID {
				t.Errorf("CIRunID = %q, want %q", st.CIRunID, tt.wantRunID)
			}
		})
	}
}

func TestGetBuildStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want release.WorkflowStatus
	}{
		{"building", `{"building":true}`, release.WorkflowRunning},
		{"success", `{"building":false,"result":"SUCCESS"}`, release.WorkflowCompleted},
		{"failure", `{"building":false,"result":"FAILURE"}`, release.WorkflowFailed},
		{"aborted", `{"building":false,"result":"ABORTED"}`, release.WorkflowFailed},
		{"unstable", `{"building":false,"result":"UNSTABLE"}`, release.WorkflowFailed},
		{"no result yet", `{"building":false,"result":null}`, release.WorkflowRunning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte(tt.body))
			}))

			st, err := c.GetBuildStatus(context.Background(), srv.URL+"/job/android/7")
			if err != nil {
				t.Fatalf("GetBuildStatus: %v", err)
			}
			if st.Status != tt.want {
				t.Errorf("Status = %s, want %s", st.Status, tt.want)
			}
		})
	}
}

func TestJobPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		job  string
		want string
	}{
		{"android-release", "/job/android-release"},
		{"mobile/android-release", "/job/mobile/job/android-release"},
		{"/mobile/ios/", "/job/mobile/job/ios"},
	}
	for _, tt := range tests {
		if got := jobPath(tt.job); got != tt.want {
			t.Errorf("jobPath(%q) = %q, want %q", tt.job, got, tt.want)
		}
	}
}
