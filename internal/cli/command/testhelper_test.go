package command

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/urfave/cli/v2"
	_ "modernc.org/sqlite"

	"github.com/yndnr/querydeck-go/internal/cli/config"
	"github.com/yndnr/querydeck-go/internal/core/audit"
	"github.com/yndnr/querydeck-go/internal/core/service"
	"github.com/yndnr/querydeck-go/internal/driver"
	"github.com/yndnr/querydeck-go/internal/server/httpserver"
	"github.com/yndnr/querydeck-go/internal/storage"
	"github.com/yndnr/querydeck-go/internal/telemetry/logger"
	"github.com/yndnr/querydeck-go/internal/telemetry/metric"
	"github.com/yndnr/querydeck-go/pkg/crypto/seal"
	"github.com/yndnr/querydeck-go/pkg/token"
)

// fakeTerminal answers prompts from queued lines and secrets.
type fakeTerminal struct {
	mu          sync.Mutex
	interactive bool
	lines       []string
	secrets     []string
	prompts     []string
}

func (t *fakeTerminal) Interactive() bool { return t.interactive }

func (t *fakeTerminal) ReadLine(prompt string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prompts = append(t.prompts, prompt)
	if len(t.lines) == 0 {
		return "", io.EOF
	}
	l := t.lines[0]
	t.lines = t.lines[1:]
	return l, nil
}

func (t *fakeTerminal) ReadSecret(prompt string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prompts = append(t.prompts, prompt)
	if len(t.secrets) == 0 {
		return "", io.EOF
	}
	s := t.secrets[0]
	t.secrets = t.secrets[1:]
	return s, nil
}

// testEnv is one CLI "process" against an in-process gateway.
type testEnv struct {
	t     *testing.T
	rt    *Runtime
	term  *fakeTerminal
	stdin string
}

func startGateway(t *testing.T) *httptest.Server {
	t.Helper()
	key, err := token.NewServerKey()
	if err != nil {
		t.Fatal(err)
	}
	raw, ok := token.DecodeServerKey(key)
	if !ok {
		t.Fatal("generated server key does not decode")
	}

	l := logger.Discard()
	m := metric.NewRegistry()
	kv := storage.NewMemoryKV()
	creds, err := service.NewCredentialService(kv, raw, service.WithLogger(l), service.WithMetrics(m),
		service.WithAudit(audit.New(kv, audit.WithLogger(l))))
	if err != nil {
		t.Fatal(err)
	}
	db := service.NewDatabaseService(driver.Defaults(), service.WithLogger(l), service.WithMetrics(m))
	hub := service.NewStreamHub(db, service.WithInterval(20*time.Millisecond), service.WithStreamLogger(l))

	srv := httptest.NewServer(httpserver.NewRouter(&httpserver.RouterConfig{
		Database:    db,
		Credentials: creds,
		Stream:      hub,
		Logger:      l,
		Metrics:     m,
	}))
	t.Cleanup(func() {
		srv.Close()
		db.Close()
	})
	return srv
}

func newTestEnv(t *testing.T, gatewayURL string, tweaks ...func(*config.CLIConfig)) *testEnv {
	t.Helper()
	session, err := token.NewSession()
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Gateway.URL = gatewayURL
	cfg.Gateway.SessionToken = session
	cfg.Vault.KDF = seal.KDFParams{Time: 1, MemoryKiB: 8, Threads: 1}
	cfg.Vault.UnlockInterval = time.Millisecond
	cfg.Channel.ReconnectInterval = 20 * time.Millisecond
	cfg.Channel.MaxReconnectAttempts = 1
	for _, tweak := range tweaks {
		tweak(cfg)
	}

	term := &fakeTerminal{}
	rt, err := NewRuntime(context.Background(), cfg, storage.NewMemoryKV(), term, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { rt.Close() })
	return &testEnv{t: t, rt: rt, term: term}
}

// run executes one command line and returns what it printed.
func (e *testEnv) run(args ...string) (string, string, error) {
	e.t.Helper()
	var out, errOut bytes.Buffer
	app := newApp(e.rt)
	app.Writer = &out
	app.ErrWriter = &errOut
	app.Reader = strings.NewReader(e.stdin)
	app.ExitErrHandler = func(*cli.Context, error) {}
	e.stdin = ""

	err := app.Run(append([]string{"querydeck-cli"}, args...))
	return out.String(), errOut.String(), err
}

// mustRun fails the test when the command errors.
func (e *testEnv) mustRun(args ...string) string {
	e.t.Helper()
	out, errOut, err := e.run(args...)
	if err != nil {
		e.t.Fatalf("%v: %v\nstderr: %s", args, err, errOut)
	}
	return out
}

func decodeJSON(t *testing.T, s string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(s), v); err != nil {
		t.Fatalf("decode %q: %v", s, err)
	}
}

func newSQLiteFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.db")
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT NOT NULL)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO users (email) VALUES ('a@example.com'), ('b@example.com')`); err != nil {
		t.Fatal(err)
	}
	return path
}
