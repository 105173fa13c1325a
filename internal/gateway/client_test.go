package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/querydeck-go/internal/core/audit"
	"github.com/yndnr/querydeck-go/internal/core/domain"
	"github.com/yndnr/querydeck-go/internal/core/vault"
	"github.com/yndnr/querydeck-go/internal/telemetry/logger"
)

func writeEnvelope(w http.ResponseWriter, status int, code, message, details string, data any) {
	env := map[string]any{"code": code, "message": message, "request_id": "req-test", "timestamp": time.Now().UnixMilli()}
	if details != "" {
		env["details"] = details
	}
	if data != nil {
		env["data"] = data
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithLogger(logger.Discard())}, opts...)
	return NewClient(srv.URL, opts...)
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name   string
		server string
		base   string
		ws     string
	}{
		{"http prefix", "http://localhost:8000", "http://localhost:8000", "ws://localhost:8000/ws"},
		{"https prefix", "https://gw.example.com/", "https://gw.example.com", "wss://gw.example.com/ws"},
		{"no prefix", "localhost:8000", "http://localhost:8000", "ws://localhost:8000/ws"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(tt.server)
			if c.BaseURL() != tt.base {
				t.Errorf("BaseURL() = %q, want %q", c.BaseURL(), tt.base)
			}
			if c.WebSocketURL() != tt.ws {
				t.Errorf("WebSocketURL() = %q, want %q", c.WebSocketURL(), tt.ws)
			}
		})
	}
}

func TestClient_Connect(t *testing.T) {
	var got ConnectRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/database/connect" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get(HeaderUserSession) != "qdst_abc" {
			t.Errorf("%s = %q", HeaderUserSession, r.Header.Get(HeaderUserSession))
		}
		if !strings.HasPrefix(r.Header.Get("User-Agent"), "querydeck-cli/") {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		writeEnvelope(w, http.StatusOK, CodeOK, "Success", "", ConnectResult{Status: "success", Message: "Successfully connected to database"})
	}, WithSessionToken("qdst_abc"))

	ep := domain.Endpoint{Host: "db", Port: 5432, Database: "app", Username: "profile-user"}
	res, err := c.Connect(context.Background(), ep, domain.KindPostgreSQL, &domain.Secret{Username: "alice", Password: "pw"})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if res.Status != "success" {
		t.Errorf("Status = %q", res.Status)
	}
	if got.Kind != domain.KindPostgreSQL || got.Username != "alice" || got.Password != "pw" || got.Port != 5432 {
		t.Errorf("request = %+v", got)
	}
}

func TestClient_ConnectWithoutSecretKeepsProfileUser(t *testing.T) {
	var got ConnectRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		writeEnvelope(w, http.StatusOK, CodeOK, "Success", "", ConnectResult{Status: "success"})
	})
	ep := domain.Endpoint{Host: "localhost", Database: "/tmp/a.db"}
	if _, err := c.Connect(context.Background(), ep, domain.KindSQLite, nil); err != nil {
		t.Fatal(err)
	}
	if got.Password != "" || got.Database != "/tmp/a.db" {
		t.Errorf("request = %+v", got)
	}
}

func TestClient_ConnectRejected(t *testing.T) {
	const remoteMsg = `password authentication failed for user "alice"`
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusBadGateway, domain.ErrRemoteConnectFailed.Code, "Database connection failed", remoteMsg, nil)
	})

	_, err := c.Connect(context.Background(), domain.Endpoint{Host: "db", Port: 5432, Database: "app", Username: "u"}, domain.KindPostgreSQL, &domain.Secret{Password: "bad"})
	if !errors.Is(err, domain.ErrRemoteConnectFailed) {
		t.Fatalf("error = %v, want ErrRemoteConnectFailed", err)
	}
	if got := domain.RemoteMessage(err); got != remoteMsg {
		t.Errorf("RemoteMessage() = %q, want %q", got, remoteMsg)
	}
}

func TestClient_ConnectGatewayDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, WithLogger(logger.Discard()), WithTimeout(time.Second))
	_, err := c.Connect(context.Background(), domain.Endpoint{Host: "db", Port: 1, Database: "d", Username: "u"}, domain.KindMySQL, nil)
	if !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Errorf("error = %v, want ErrGatewayUnavailable", err)
	}
}

func TestClient_StatusAndSchema(t *testing.T) {
	def := "nextval('id_seq')"
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/database/status":
			writeEnvelope(w, http.StatusOK, CodeOK, "Success", "", StatusResult{Connected: true, Status: "connected", Kind: domain.KindPostgreSQL})
		case "/api/database/schema":
			writeEnvelope(w, http.StatusOK, CodeOK, "Success", "", SchemaResult{Tables: []Table{{
				Schema: "public", Name: "users",
				Columns: []Column{{Name: "id", Type: "integer", Default: &def}, {Name: "email", Type: "text", Nullable: true}},
			}}})
		default:
			http.NotFound(w, r)
		}
	})

	st, err := c.Status(context.Background())
	if err != nil || !st.Connected || st.Status != "connected" {
		t.Fatalf("Status() = %+v, %v", st, err)
	}
	tables, err := c.Schema(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(tables) != 1 || len(tables[0].Columns) != 2 || *tables[0].Columns[0].Default != def {
		t.Errorf("Schema() = %+v", tables)
	}
}

func TestClient_ErrorCodesRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, domain.ErrUnauthorized.Code, domain.ErrUnauthorized},
		{"rate limited", http.StatusTooManyRequests, domain.ErrRateLimited.Code, domain.ErrRateLimited},
		{"not connected", http.StatusBadRequest, domain.ErrNoActiveConnection.Code, domain.ErrNoActiveConnection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(w, tt.status, tt.code, "nope", "", nil)
			})
			if _, err := c.Schema(context.Background()); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestClient_NonEnvelopeError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broke", http.StatusServiceUnavailable)
	})
	if err := c.Disconnect(context.Background()); !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Errorf("error = %v", err)
	}
}

// fakeGateway is a minimal in-memory credential and profile server.
type fakeGateway struct {
	creds    map[string]CredentialBody
	profiles map[string]domain.Profile
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(HeaderUserSession) == "" {
		writeEnvelope(w, http.StatusUnauthorized, domain.ErrUnauthorized.Code, "caller session required", "", nil)
		return
	}
	path := r.URL.Path
	switch {
	case path == "/api/credentials/reset" && r.Method == http.MethodPost:
		g.creds = map[string]CredentialBody{}
		writeEnvelope(w, http.StatusOK, CodeOK, "Success", "", nil)
	case strings.HasSuffix(path, "/state"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/api/credentials/"), "/state")
		_, ok := g.creds[id]
		writeEnvelope(w, http.StatusOK, CodeOK, "Success", "", CredentialState{Stored: ok})
	case strings.HasPrefix(path, "/api/credentials/"):
		id := strings.TrimPrefix(path, "/api/credentials/")
		switch r.Method {
		case http.MethodPut:
			var b CredentialBody
			json.NewDecoder(r.Body).Decode(&b)
			g.creds[id] = b
			writeEnvelope(w, http.StatusOK, CodeOK, "Success", "", nil)
		case http.MethodGet:
			b, ok := g.creds[id]
			if !ok {
				writeEnvelope(w, http.StatusNotFound, domain.ErrNotFound.Code, "not found", "", nil)
				return
			}
			writeEnvelope(w, http.StatusOK, CodeOK, "Success", "", b)
		case http.MethodDelete:
			if _, ok := g.creds[id]; !ok {
				writeEnvelope(w, http.StatusNotFound, domain.ErrNotFound.Code, "not found", "", nil)
				return
			}
			delete(g.creds, id)
			writeEnvelope(w, http.StatusOK, CodeOK, "Success", "", nil)
		}
	case path == "/api/connections":
		list := ProfileList{}
		for _, p := range g.profiles {
			list.Connections = append(list.Connections, p)
		}
		writeEnvelope(w, http.StatusOK, CodeOK, "Success", "", list)
	case strings.HasPrefix(path, "/api/connections/"):
		id := strings.TrimPrefix(path, "/api/connections/")
		switch r.Method {
		case http.MethodPut:
			var p domain.Profile
			json.NewDecoder(r.Body).Decode(&p)
			g.profiles[id] = p
			writeEnvelope(w, http.StatusOK, CodeOK, "Success", "", nil)
		case http.MethodDelete:
			if _, ok := g.profiles[id]; !ok {
				writeEnvelope(w, http.StatusNotFound, domain.ErrNotFound.Code, "not found", "", nil)
				return
			}
			delete(g.profiles, id)
			writeEnvelope(w, http.StatusOK, CodeOK, "Success", "", nil)
		}
	default:
		http.NotFound(w, r)
	}
}

func newFakeGatewayClient(t *testing.T) (*Client, *fakeGateway) {
	t.Helper()
	g := &fakeGateway{creds: map[string]CredentialBody{}, profiles: map[string]domain.Profile{}}
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, WithSessionToken("qdst_test"), WithLogger(logger.Discard())), g
}

func TestClient_CredentialStore(t *testing.T) {
	c, _ := newFakeGatewayClient(t)
	ctx := context.Background()

	if _, err := c.GetCredential(ctx, "qdcp-1"); !errors.Is(err, domain.ErrSecretNotFound) {
		t.Errorf("GetCredential(missing) error = %v", err)
	}
	if err := c.PutCredential(ctx, "qdcp-1", domain.Secret{Username: "u", Password: "p"}); err != nil {
		t.Fatal(err)
	}
	if has, _ := c.HasCredential(ctx, "qdcp-1"); !has {
		t.Error("HasCredential() = false after put")
	}
	s, err := c.GetCredential(ctx, "qdcp-1")
	if err != nil || s.Password != "p" {
		t.Errorf("GetCredential() = %v, %v", s, err)
	}
	if err := c.DeleteCredential(ctx, "qdcp-1"); err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteCredential(ctx, "qdcp-1"); !errors.Is(err, domain.ErrSecretNotFound) {
		t.Errorf("second delete error = %v", err)
	}
}

func TestClient_WithoutSessionIsUnauthorized(t *testing.T) {
	g := &fakeGateway{creds: map[string]CredentialBody{}, profiles: map[string]domain.Profile{}}
	srv := httptest.NewServer(g)
	defer srv.Close()

	c := NewClient(srv.URL, WithLogger(logger.Discard()))
	if _, err := c.ListProfiles(context.Background()); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("error = %v, want ErrUnauthorized", err)
	}
}

func TestClient_Profiles(t *testing.T) {
	c, g := newFakeGatewayClient(t)
	ctx := context.Background()

	p, _ := domain.NewProfile("orders", domain.KindMySQL, domain.Endpoint{Host: "h", Port: 3306, Database: "d", Username: "u"})
	if err := c.PutProfile(ctx, *p); err != nil {
		t.Fatal(err)
	}
	if _, ok := g.profiles[p.ID]; !ok {
		t.Fatal("profile not stored on gateway")
	}
	list, err := c.ListProfiles(ctx)
	if err != nil || len(list) != 1 || list[0].Name != "orders" {
		t.Errorf("ListProfiles() = %v, %v", list, err)
	}
	if err := c.DeleteProfile(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteProfile(ctx, p.ID); !errors.Is(err, domain.ErrUnknownConnection) {
		t.Errorf("second delete error = %v", err)
	}
}

type fakeFlagger struct{ flags map[string]bool }

func (f *fakeFlagger) SetHasStoredSecret(_ context.Context, id string, has bool) error {
	f.flags[id] = has
	return nil
}

func (f *fakeFlagger) ClearStoredSecrets(context.Context) error {
	f.flags = map[string]bool{}
	return nil
}

func TestRemoteVault_OverGateway(t *testing.T) {
	c, g := newFakeGatewayClient(t)
	ctx := context.Background()
	flags := &fakeFlagger{flags: map[string]bool{}}
	v := vault.NewRemote(c, vault.WithFlagger(flags), vault.WithLogger(logger.Discard()))

	if err := v.Store(ctx, "qdcp-9", domain.Secret{Username: "u", Password: "s3cret"}, ""); err != nil {
		t.Fatal(err)
	}
	if !flags.flags["qdcp-9"] {
		t.Error("profile not flagged")
	}
	got, err := v.Retrieve(ctx, "qdcp-9", "")
	if err != nil || got.Password != "s3cret" {
		t.Errorf("Retrieve() = %v, %v", got, err)
	}
	if err := v.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if len(g.creds) != 0 || len(flags.flags) != 0 {
		t.Errorf("reset left creds=%d flags=%d", len(g.creds), len(flags.flags))
	}
}

func TestClient_Audit(t *testing.T) {
	id, _ := domain.GenerateProfileID()
	tests := []struct {
		name     string
		id       string
		limit    int
		wantPath string
		wantRaw  string
	}{
		{"all", "", 0, "/api/credentials/audit", ""},
		{"profile", id, 0, "/api/credentials/" + id + "/audit", ""},
		{"limit", "", 5, "/api/credentials/audit", "limit=5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet || r.URL.Path != tt.wantPath || r.URL.RawQuery != tt.wantRaw {
					t.Errorf("unexpected %s %s?%s", r.Method, r.URL.Path, r.URL.RawQuery)
				}
				writeEnvelope(w, http.StatusOK, CodeOK, "Success", "", AuditList{Entries: []audit.Entry{
					{ID: "01HZ", Op: "store", Backend: "gateway", ProfileID: tt.id, Success: true},
				}})
			})
			got, err := c.Audit(context.Background(), tt.id, tt.limit)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 1 || got[0].Op != "store" || got[0].ProfileID != tt.id {
				t.Errorf("Audit() = %+v", got)
			}
		})
	}
}
