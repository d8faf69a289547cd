package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"

	echoapi "github.com/trezcool/masomo-sync/apps/api/echo"
	"github.com/trezcool/masomo-sync/core/offline"
	remotesvc "github.com/trezcool/masomo-sync/services/remote"
	"github.com/trezcool/masomo-sync/storage/database"
	inmemdb "github.com/trezcool/masomo-sync/storage/database/inmem"
	boiledrepos "github.com/trezcool/masomo-sync/storage/database/sqlboiler"
	sqlxrepos "github.com/trezcool/masomo-sync/storage/database/sqlx"
	"github.com/trezcool/masomo-sync/tests"
)

type remoteCalls struct {
	mu    sync.Mutex
	auths []string
}

func setup(t *testing.T) (*commandLine, *bytes.Buffer, *remoteCalls) {
	t.Helper()
	conf := testutil.NewConfig(t)
	log := testutil.NewLogger(conf)
	db := testutil.PrepareDB(t, conf)

	calls := &remoteCalls{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.mu.Lock()
		calls.auths = append(calls.auths, r.Header.Get("Authorization"))
		calls.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(srv.Close)
	conf.Remote.BaseURL = srv.URL
	conf.Remote.Token = ""

	store := sqlxrepos.NewQueueStore(database.NewX(db, conf))
	remote := remotesvc.NewClient(conf, log)
	coordinator := offline.NewCoordinator(offline.Options{
		LockName:  offline.TeacherProfile.LockName,
		Store:     store,
		Locker:    inmemdb.NewLocker(inmemdb.Open()),
		Handlers:  offline.TeacherProfile.Handlers(remote, log),
		Logger:    log,
		Observers: []offline.RunObserver{offline.NewRunRecorder(boiledrepos.NewRunRepository(db, conf.Database.Engine), log)},
	})

	out := new(bytes.Buffer)
	return &commandLine{
		conf:        conf,
		db:          db,
		store:       store,
		coordinator: coordinator,
		remote:      remote,
		out:         out,
	}, out, calls
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func checkErr(t *testing.T, tt cliTest, err error) {
	if err == nil {
		if tt.wantErr != nil || tt.wantErrStr != "" {
			t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
		}
		return
	}
	if tt.wantErr != nil {
		if err != tt.wantErr {
			t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
		}
	} else if tt.wantErrStr != "" {
		if err.Error() != tt.wantErrStr {
			t.Errorf("cli.run() error.Error() = %s, wantErrStr %s", err.Error(), tt.wantErrStr)
		}
	} else {
		t.Errorf("cli.run() unexpected error = %v", err)
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _, _ := setup(t)

	orig := gooseRunFunc
	defer func() { gooseRunFunc = orig }()
	gooseRunFunc = func(command string, db *sql.DB, fsys fs.FS, dir string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to":
			if len(args) == 0 {
				return fmt.Errorf("up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		case "down-to":
			if len(args) == 0 {
				return fmt.Errorf("down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		if dir != "migrations" {
			return fmt.Errorf("unexpected dir %q", dir)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "create", args: []string{"migrate", "create", "sync_cursors", "sql"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			checkErr(t, tt, cli.run(args))
		})
	}
}

func Test_commandLine_queue(t *testing.T) {
	cli, out, _ := setup(t)

	a1 := testutil.EnqueueItem(t, cli.store, "attendance", offline.OpCreate, "", map[string]bool{"present": true})
	a2 := testutil.EnqueueItem(t, cli.store, "activities", offline.OpDelete, "act-3", nil)

	tests := []struct {
		name     string
		args     []string
		want     []string
		dontWant []string
	}{
		{name: "all", args: []string{"queue"}, want: []string{a1.ID, a2.ID, "2 queued"}},
		{name: "by store", args: []string{"queue", "-store", "Activities"}, want: []string{a2.ID, "act-3", "1 queued"}, dontWant: []string{a1.ID}},
		{name: "empty store", args: []string{"queue", "-store", "assessments"}, want: []string{"0 queued"}, dontWant: []string{a1.ID, a2.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out.Reset()
			if err := cli.run(append([]string{"admin"}, tt.args...)); err != nil {
				t.Fatalf("cli.run() unexpected error = %v", err)
			}
			for _, s := range tt.want {
				assert.Contains(t, out.String(), s)
			}
			for _, s := range tt.dontWant {
				assert.NotContains(t, out.String(), s)
			}
		})
	}
}

func Test_commandLine_discard(t *testing.T) {
	cli, _, _ := setup(t)
	item := testutil.EnqueueItem(t, cli.store, "assessments", offline.OpUpdate, "as-1", map[string]int{"score": 7})

	tests := []cliTest{
		{name: "no args", args: []string{"discard"}, wantErr: errHelp},
		{name: "unknown item", args: []string{"discard", "-id", "lol"}, wantErr: offline.ErrNotFound},
		{name: "discard", args: []string{"discard", "-id", item.ID}},
		{name: "already discarded", args: []string{"discard", "-id", item.ID}, wantErr: offline.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkErr(t, tt, cli.run(append([]string{"admin"}, tt.args...)))
		})
	}

	_, err := cli.store.Get(context.Background(), item.ID)
	assert.Equal(t, offline.ErrNotFound, err)
}

func Test_commandLine_sync(t *testing.T) {
	cli, out, calls := setup(t)
	testutil.EnqueueItem(t, cli.store, "attendance", offline.OpCreate, "", map[string]bool{"present": true})

	orig := readPasswordFunc
	defer func() { readPasswordFunc = orig }()

	type extra struct {
		token string
	}
	tests := []cliTest{
		{name: "no token", args: []string{"sync"}, wantErr: errHelp},
		{name: "sync", args: []string{"sync", "-force"}, extra: extra{token: "s3cr3t"}},
	}
	for _, tt := range tests {
		readPasswordFunc = func(fd int) ([]byte, error) {
			if extra, ok := tt.extra.(extra); ok {
				return []byte(extra.token), nil
			}
			return nil, nil
		}

		t.Run(tt.name, func(t *testing.T) {
			checkErr(t, tt, cli.run(append([]string{"admin"}, tt.args...)))
		})
	}

	assert.Equal(t, []string{"Bearer s3cr3t"}, calls.auths)
	assert.Contains(t, out.String(), `"synced_count": 1`)

	items, err := cli.store.QueryAll(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, items)
}

func Test_commandLine_token(t *testing.T) {
	cli, out, _ := setup(t)

	tests := []cliTest{
		{name: "no args", args: []string{"token"}, wantErr: errHelp},
		{name: "unknown profile", args: []string{"token", "-client", "laptop-1", "-profile", "student"}, wantErrStr: `unknown sync profile "student"`},
		{name: "coordinator", args: []string{"token", "-client", "laptop-1", "-profile", "coordinator"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkErr(t, tt, cli.run(append([]string{"admin"}, tt.args...)))
		})
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	claims := new(echoapi.Claims)
	_, err := jwt.ParseWithClaims(lines[len(lines)-1], claims, func(*jwt.Token) (interface{}, error) {
		return []byte(cli.conf.SecretKey), nil
	})
	if assert.NoError(t, err) {
		assert.Equal(t, "laptop-1", claims.Subject)
		assert.Equal(t, "coordinator", claims.Profile)
	}
}

func Test_commandLine_help(t *testing.T) {
	cli, out, _ := setup(t)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "bad flag", args: []string{"sync", "-lol"}, wantErr: errHelp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkErr(t, tt, cli.run(append([]string{"admin"}, tt.args...)))
		})
	}
	assert.Contains(t, out.String(), "Usage:")
}
