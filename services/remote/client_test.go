package remotesvc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/masomo-sync/core"
	"github.com/trezcool/masomo-sync/core/offline"
	"github.com/trezcool/masomo-sync/tests"
)

type received struct {
	method, path, body string
	headers            http.Header
}

func newRemote(t *testing.T, status int) (*Client, *[]received) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []received
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, received{method: r.Method, path: r.URL.Path, body: string(body), headers: r.Header.Clone()})
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"detail":"nope"}`))
	}))
	t.Cleanup(srv.Close)

	conf := &core.Config{ClientID: "teacher-laptop"}
	conf.Remote = core.RemoteConfig{BaseURL: srv.URL + "/", Token: "s3cr3t", Timeout: time.Second}
	return NewClient(conf, testutil.NewLogger(conf)), &reqs
}

func TestClient_Submit(t *testing.T) {
	data := json.RawMessage(`{"present":true}`)

	tests := []struct {
		name       string
		status     int
		item       offline.QueueItem
		wantMethod string
		wantPath   string
		wantBody   string
		wantErr    bool
	}{
		{
			name:       "create",
			status:     http.StatusCreated,
			item:       offline.QueueItem{ID: "q1", StoreName: "attendance", Operation: offline.OpCreate, Data: data},
			wantMethod: http.MethodPost,
			wantPath:   "/v1/attendance",
			wantBody:   string(data),
		},
		{
			name:       "update",
			status:     http.StatusOK,
			item:       offline.QueueItem{ID: "q2", StoreName: "attendance", Operation: offline.OpUpdate, EntityID: "a-1", Data: data},
			wantMethod: http.MethodPut,
			wantPath:   "/v1/attendance/a-1",
			wantBody:   string(data),
		},
		{
			name:       "delete",
			status:     http.StatusNoContent,
			item:       offline.QueueItem{ID: "q3", StoreName: "classes", Operation: offline.OpDelete, EntityID: "c-9", Data: json.RawMessage(`{}`)},
			wantMethod: http.MethodDelete,
			wantPath:   "/v1/classes/c-9",
		},
		{
			name:       "delete of missing entity",
			status:     http.StatusNotFound,
			item:       offline.QueueItem{ID: "q4", StoreName: "classes", Operation: offline.OpDelete, EntityID: "c-9"},
			wantMethod: http.MethodDelete,
			wantPath:   "/v1/classes/c-9",
		},
		{
			name:       "update of missing entity",
			status:     http.StatusNotFound,
			item:       offline.QueueItem{ID: "q5", StoreName: "classes", Operation: offline.OpUpdate, EntityID: "c-9", Data: data},
			wantMethod: http.MethodPut,
			wantPath:   "/v1/classes/c-9",
			wantBody:   string(data),
			wantErr:    true,
		},
		{
			name:       "server error",
			status:     http.StatusInternalServerError,
			item:       offline.QueueItem{ID: "q6", StoreName: "assessments", Operation: offline.OpCreate, Data: data},
			wantMethod: http.MethodPost,
			wantPath:   "/v1/assessments",
			wantBody:   string(data),
			wantErr:    true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client, reqs := newRemote(t, tc.status)

			err := client.Submit(context.Background(), tc.item)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Submit() error = %v, wantErr %v", err, tc.wantErr)
			}
			if assert.Len(t, *reqs, 1) {
				req := (*reqs)[0]
				assert.Equal(t, tc.wantMethod, req.method)
				assert.Equal(t, tc.wantPath, req.path)
				assert.Equal(t, tc.wantBody, req.body)
				assert.Equal(t, "Bearer s3cr3t", req.headers.Get("Authorization"))
				assert.Equal(t, tc.item.ID, req.headers.Get("Idempotency-Key"))
				assert.Equal(t, "teacher-laptop", req.headers.Get("X-Client-ID"))
			}
			if tc.wantErr {
				var rErr *RemoteError
				if assert.True(t, errors.As(err, &rErr)) {
					assert.Equal(t, tc.status, rErr.StatusCode)
					assert.Contains(t, rErr.Body, "nope")
				}
			}
		})
	}
}

func TestClient_Submit_invalidItem(t *testing.T) {
	client, reqs := newRemote(t, http.StatusOK)

	tests := []struct {
		name string
		item offline.QueueItem
	}{
		{name: "unknown operation", item: offline.QueueItem{ID: "q1", StoreName: "attendance", Operation: "archive"}},
		{name: "update without entity", item: offline.QueueItem{ID: "q2", StoreName: "attendance", Operation: offline.OpUpdate}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := client.Submit(context.Background(), tc.item); err == nil {
				t.Errorf("Submit() error = %v, wantErr %v", err, true)
			}
		})
	}
	assert.Empty(t, *reqs)
}

func TestClient_Submit_transportError(t *testing.T) {
	client, _ := newRemote(t, http.StatusOK)

	orig := sendFunc
	sendFunc = func(context.Context, rest.Request) (*rest.Response, error) {
		return nil, errors.New("connection refused")
	}
	defer func() { sendFunc = orig }()

	err := client.Submit(context.Background(), offline.QueueItem{ID: "q1", StoreName: "attendance", Operation: offline.OpCreate})
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "connection refused")
		assert.False(t, errors.Is(err, offline.ErrRejected))
	}
}

func TestRemoteError_Is(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "bad request", err: &RemoteError{StatusCode: 400}, want: true},
		{name: "wrapped conflict", err: errors.Wrap(&RemoteError{StatusCode: 409}, "submit"), want: true},
		{name: "unprocessable", err: &RemoteError{StatusCode: 422}, want: true},
		{name: "request timeout", err: &RemoteError{StatusCode: 408}},
		{name: "throttled", err: &RemoteError{StatusCode: 429}},
		{name: "server error", err: &RemoteError{StatusCode: 503}},
		{name: "other", err: errors.New("boom")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, errors.Is(tc.err, offline.ErrRejected))
		})
	}
}

func TestHealthChecker_Check(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{name: "healthy", status: http.StatusOK, want: true},
		{name: "unavailable", status: http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var path string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				path = r.URL.Path
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			conf := &core.Config{}
			conf.Remote = core.RemoteConfig{BaseURL: srv.URL, HealthPath: "/health"}
			p := NewHealthChecker(conf, testutil.NewLogger(conf))

			assert.Equal(t, tc.want, p.Check(context.Background()))
			assert.Equal(t, "/health", path)
		})
	}

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		conf := &core.Config{}
		conf.Remote = core.RemoteConfig{BaseURL: url, HealthPath: "health"}
		assert.False(t, NewHealthChecker(conf, testutil.NewLogger(conf)).Check(context.Background()))
	})
}
