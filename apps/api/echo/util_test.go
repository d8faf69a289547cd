package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-sync/core"
	"github.com/trezcool/masomo-sync/core/offline"
	inmemdb "github.com/trezcool/masomo-sync/storage/database/inmem"
	"github.com/trezcool/masomo-sync/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type fakeRemote struct {
	mu        sync.Mutex
	submitted []offline.QueueItem
	failing   map[string]bool // entity ids
}

func (r *fakeRemote) Submit(_ context.Context, item offline.QueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing[item.EntityID] {
		return &testRemoteErr{}
	}
	r.submitted = append(r.submitted, item)
	return nil
}

type testRemoteErr struct{}

func (*testRemoteErr) Error() string { return "remote answered 500" }

type testApp struct {
	conf   *core.Config
	server *Server
	db     *inmemdb.DB
	store  offline.QueueStore
	remote *fakeRemote
	token  string
}

func setup(t *testing.T) *testApp {
	t.Helper()
	conf := testutil.NewConfig(t)
	logger := testutil.NewLogger(conf)

	db := inmemdb.Open()
	store := inmemdb.NewQueueStore(db)
	runs := inmemdb.NewRunRepository(db)
	remote := &fakeRemote{failing: make(map[string]bool)}

	watcher := offline.NewConnectivityWatcher(offline.WatcherOptions{InitialOnline: true, Logger: logger})
	coordinator := offline.NewCoordinator(offline.Options{
		LockName:     offline.TeacherProfile.LockName,
		Store:        store,
		Locker:       inmemdb.NewLocker(db),
		Connectivity: watcher,
		Handlers:     offline.TeacherProfile.Handlers(remote, logger),
		Logger:       logger,
		Observers:    []offline.RunObserver{offline.NewRunRecorder(runs, logger)},
	})
	watcher.Attach(coordinator)

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)

	server := NewServer(conf, logger, &Deps{
		Service:     offline.NewService(store, runs, validate, translator, offline.TeacherProfile.Stores...),
		Coordinator: coordinator,
		Watcher:     watcher,
		Validate:    validate,
		Translator:  translator,
	})

	token, err := GenerateToken(conf, GetClientClaims(conf, "teacher-laptop", offline.TeacherProfile.Name))
	if err != nil {
		t.Fatalf("GenerateToken() failed: %v", err)
	}
	return &testApp{conf: conf, server: server, db: db, store: store, remote: remote, token: token}
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func (app *testApp) do(method, path string, data ...[]byte) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(method, path, app.token, data...)
	app.server.ServeHTTP(rec, req)
	return rec
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func unmarshal(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("json.Unmarshal(%s) failed: %v", rec.Body.String(), err)
	}
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
