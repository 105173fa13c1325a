package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yndnr/querydeck-go/internal/core/domain"
	"github.com/yndnr/querydeck-go/internal/core/registry"
	"github.com/yndnr/querydeck-go/internal/core/vault"
	"github.com/yndnr/querydeck-go/internal/gateway"
	"github.com/yndnr/querydeck-go/internal/livechannel"
	"github.com/yndnr/querydeck-go/internal/storage"
	"github.com/yndnr/querydeck-go/internal/telemetry/logger"
	"github.com/yndnr/querydeck-go/pkg/crypto/seal"
)

const testPassphrase = "correct horse battery staple"

type fakeGateway struct {
	mu          sync.Mutex
	connectErr  error
	disconnErr  error
	block       chan struct{}
	started     chan struct{}
	connects    atomic.Int32
	disconnects atomic.Int32
	statusCalls atomic.Int32
	dropped     atomic.Bool
	lastSecret  *domain.Secret
}

func (g *fakeGateway) Connect(ctx context.Context, _ domain.Endpoint, _ domain.Kind, s *domain.Secret) (*gateway.ConnectResult, error) {
	g.connects.Add(1)
	g.mu.Lock()
	g.lastSecret = s
	block, started, err := g.block, g.started, g.connectErr
	g.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &gateway.ConnectResult{Status: "success"}, nil
}

func (g *fakeGateway) Disconnect(context.Context) error {
	g.disconnects.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.disconnErr
}

func (g *fakeGateway) Status(context.Context) (*gateway.StatusResult, error) {
	g.statusCalls.Add(1)
	if g.dropped.Load() {
		return &gateway.StatusResult{Status: string(domain.StatusDisconnected)}, nil
	}
	return &gateway.StatusResult{Connected: true, Status: string(domain.StatusConnected)}, nil
}

type fakeChannel struct {
	mu      sync.Mutex
	open    bool
	openErr error
	opens   int
	closes  int
	sent    []livechannel.Command
	subs    map[livechannel.Topic][]livechannel.Handler
}

func (f *fakeChannel) Open(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.openErr != nil {
		return f.openErr
	}
	f.open = true
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.open = false
	return nil
}

func (f *fakeChannel) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeChannel) Send(_ context.Context, cmd livechannel.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return domain.ErrChannelClosed
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeChannel) On(topic livechannel.Topic, h livechannel.Handler) livechannel.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = map[livechannel.Topic][]livechannel.Handler{}
	}
	f.subs[topic] = append(f.subs[topic], h)
	return livechannel.Subscription{}
}

func (f *fakeChannel) fire(ev livechannel.Event) {
	f.mu.Lock()
	hs := append([]livechannel.Handler(nil), f.subs[ev.Topic]...)
	f.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

type fixture struct {
	ctrl    *Controller
	reg     *registry.Registry
	vault   *vault.LocalVault
	gw      *fakeGateway
	channel *fakeChannel

	mu     sync.Mutex
	events []Event
}

func (f *fixture) recorded(kind EventKind) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Event
	for _, e := range f.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	kv := storage.NewMemoryKV()

	reg, err := registry.New(ctx, kv, registry.WithLogger(logger.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	v := vault.NewLocal(kv, vault.Config{KDF: seal.KDFParams{Time: 1, MemoryKiB: 8, Threads: 1}, UnlockBurst: 1},
		vault.WithFlagger(reg), vault.WithLogger(logger.Discard()))
	reg.SetSecretRemover(v)
	if err := v.SetMasterPassphrase(ctx, testPassphrase); err != nil {
		t.Fatal(err)
	}

	f := &fixture{reg: reg, vault: v, gw: &fakeGateway{}, channel: &fakeChannel{}}
	opts = append([]Option{WithLogger(logger.Discard()), WithChannel(f.channel)}, opts...)
	f.ctrl = New(reg, v, f.gw, opts...)
	f.ctrl.Subscribe(func(e Event) {
		f.mu.Lock()
		f.events = append(f.events, e)
		f.mu.Unlock()
	})
	return f
}

func (f *fixture) create(t *testing.T, name string) string {
	t.Helper()
	id, err := f.reg.Create(context.Background(), domain.Profile{
		Name:     name,
		Kind:     domain.KindPostgreSQL,
		Endpoint: domain.Endpoint{Host: "db", Port: 5432, Database: name, Username: "svc"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func (f *fixture) status(t *testing.T, id string) domain.Status {
	t.Helper()
	p, err := f.reg.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return p.Status
}

var explicit = ConnectOptions{Secret: &domain.Secret{Username: "svc", Password: "pw"}}

func TestConnect_Success(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "orders")

	if err := f.ctrl.Connect(context.Background(), id, explicit); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	p, _ := f.reg.Get(context.Background(), id)
	if p.Status != domain.StatusConnected || p.LastConnectedAt == nil {
		t.Errorf("profile = %+v", p)
	}
	if f.ctrl.Active() != id {
		t.Errorf("Active() = %q", f.ctrl.Active())
	}
	if !f.channel.IsOpen() {
		t.Error("live channel not opened")
	}

	var path []domain.Status
	for _, e := range f.recorded(EventStatus) {
		path = append(path, e.To)
	}
	if len(path) != 2 || path[0] != domain.StatusConnecting || path[1] != domain.StatusConnected {
		t.Errorf("transitions = %v", path)
	}
}

func TestConnect_UnknownConnection(t *testing.T) {
	f := newFixture(t)
	if err := f.ctrl.Connect(context.Background(), "qdcp-nope", explicit); !errors.Is(err, domain.ErrUnknownConnection) {
		t.Errorf("error = %v", err)
	}
}

func TestConnect_Idempotent(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "orders")
	ctx := context.Background()

	f.ctrl.Connect(ctx, id, explicit)
	if err := f.ctrl.Connect(ctx, id, explicit); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	if n := f.gw.connects.Load(); n != 1 {
		t.Errorf("gateway connects = %d, want 1", n)
	}
}

func TestConnect_AlreadyInProgress(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "orders")
	f.gw.block = make(chan struct{})
	f.gw.started = make(chan struct{}, 1)

	first := f.ctrl.ConnectAsync(context.Background(), id, explicit)
	<-f.gw.started

	if got := f.status(t, id); got != domain.StatusConnecting {
		t.Errorf("status during connect = %s", got)
	}
	if err := f.ctrl.Connect(context.Background(), id, explicit); !errors.Is(err, domain.ErrAlreadyInProgress) {
		t.Errorf("overlapping Connect() error = %v, want ErrAlreadyInProgress", err)
	}

	close(f.gw.block)
	if err := <-first; err != nil {
		t.Fatalf("first Connect() error = %v", err)
	}
	if n := f.gw.connects.Load(); n != 1 {
		t.Errorf("gateway connects = %d, want 1", n)
	}
}

func TestConnect_RemoteFailure(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "orders")
	const msg = `FATAL: password authentication failed for user "svc"`
	f.gw.connectErr = domain.ErrRemoteConnectFailed.WithDetails(msg)

	err := f.ctrl.Connect(context.Background(), id, explicit)
	if !errors.Is(err, domain.ErrRemoteConnectFailed) || domain.RemoteMessage(err) != msg {
		t.Fatalf("error = %v", err)
	}
	if got := f.status(t, id); got != domain.StatusFailed {
		t.Errorf("status = %s, want failed", got)
	}
	if f.channel.IsOpen() {
		t.Error("channel opened for failed connect")
	}
	if len(f.recorded(EventError)) != 1 {
		t.Error("failure not published")
	}

	// failed -> connecting on retry.
	f.gw.mu.Lock()
	f.gw.connectErr = nil
	f.gw.mu.Unlock()
	if err := f.ctrl.Connect(context.Background(), id, explicit); err != nil {
		t.Fatalf("retry error = %v", err)
	}
	if got := f.status(t, id); got != domain.StatusConnected {
		t.Errorf("status after retry = %s", got)
	}
}

func TestConnect_GatewayUnreachableIsRemoteFailure(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "orders")
	f.gw.connectErr = domain.ErrGatewayUnavailable.WithCause(errors.New("dial tcp 127.0.0.1:8000: connection refused"))

	err := f.ctrl.Connect(context.Background(), id, explicit)
	if !errors.Is(err, domain.ErrRemoteConnectFailed) || domain.RemoteMessage(err) == "" {
		t.Errorf("error = %v", err)
	}
}

func TestConnect_CredentialsRequired(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "orders")

	err := f.ctrl.Connect(context.Background(), id, ConnectOptions{})
	if !errors.Is(err, domain.ErrCredentialsRequired) {
		t.Fatalf("error = %v", err)
	}
	if got := f.status(t, id); got != domain.StatusDisconnected {
		t.Errorf("status = %s, want disconnected", got)
	}
	if f.gw.connects.Load() != 0 {
		t.Error("gateway called without credentials")
	}
}

func TestConnect_SQLiteNeedsNoSecret(t *testing.T) {
	f := newFixture(t)
	id, _ := f.reg.Create(context.Background(), domain.Profile{
		Kind: domain.KindSQLite, Endpoint: domain.Endpoint{Host: "localhost", Database: "app.db"},
	})
	if err := f.ctrl.Connect(context.Background(), id, ConnectOptions{}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if f.gw.lastSecret != nil {
		t.Errorf("secret sent for sqlite: %v", f.gw.lastSecret)
	}
}

func TestConnect_UsesVaultSecret(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, "orders")
	f.vault.Store(ctx, id, domain.Secret{Username: "svc", Password: "from-vault"}, testPassphrase)

	if err := f.ctrl.Unlock(ctx, testPassphrase); err != nil {
		t.Fatal(err)
	}
	if err := f.ctrl.Connect(ctx, id, ConnectOptions{}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if f.gw.lastSecret == nil || f.gw.lastSecret.Password != "from-vault" {
		t.Errorf("secret = %v", f.gw.lastSecret)
	}
}

func TestConnect_WrongPassphraseFallsBackToPrompt(t *testing.T) {
	var prompts atomic.Int32
	prompt := func(context.Context, domain.Profile) (domain.Secret, bool) {
		prompts.Add(1)
		return domain.Secret{Username: "svc", Password: "typed"}, true
	}
	f := newFixture(t, WithPrompt(prompt))
	ctx := context.Background()
	id := f.create(t, "orders")
	f.vault.Store(ctx, id, domain.Secret{Password: "from-vault"}, testPassphrase)

	// Never unlocked: the vault rejects the empty passphrase.
	if err := f.ctrl.Connect(ctx, id, ConnectOptions{}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if prompts.Load() != 1 || f.gw.lastSecret.Password != "typed" {
		t.Errorf("prompts = %d, secret = %v", prompts.Load(), f.gw.lastSecret)
	}
}

func TestConnect_DeclinedPromptKeepsVaultCause(t *testing.T) {
	f := newFixture(t, WithPrompt(func(context.Context, domain.Profile) (domain.Secret, bool) {
		return domain.Secret{}, false
	}))
	ctx := context.Background()
	id := f.create(t, "orders")
	f.vault.Store(ctx, id, domain.Secret{Password: "x"}, testPassphrase)

	err := f.ctrl.Connect(ctx, id, ConnectOptions{})
	if !errors.Is(err, domain.ErrCredentialsRequired) {
		t.Fatalf("error = %v", err)
	}
	if !errors.Is(err, domain.ErrDecryptionFailed) {
		t.Errorf("wrong passphrase not distinguishable: %v", err)
	}
	if errors.Is(err, domain.ErrSecretNotFound) {
		t.Error("reported as not found")
	}
}

func TestConnect_RememberStoresPromptedSecret(t *testing.T) {
	f := newFixture(t, WithPrompt(func(context.Context, domain.Profile) (domain.Secret, bool) {
		return domain.Secret{Username: "svc", Password: "typed"}, true
	}))
	ctx := context.Background()
	id := f.create(t, "orders")
	f.ctrl.Unlock(ctx, testPassphrase)

	if err := f.ctrl.Connect(ctx, id, ConnectOptions{Remember: true}); err != nil {
		t.Fatal(err)
	}
	p, _ := f.reg.Get(ctx, id)
	if !p.HasStoredSecret {
		t.Fatal("prompted secret not remembered")
	}
	s, err := f.vault.Retrieve(ctx, id, testPassphrase)
	if err != nil || s.Password != "typed" {
		t.Errorf("Retrieve() = %v, %v", s, err)
	}
}

func TestConnect_ChannelFailureIsNonFatal(t *testing.T) {
	f := newFixture(t)
	f.channel.openErr = errors.New("websocket: bad handshake")
	id := f.create(t, "orders")

	if err := f.ctrl.Connect(context.Background(), id, explicit); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := f.status(t, id); got != domain.StatusConnected {
		t.Errorf("status = %s", got)
	}
	errs := f.recorded(EventError)
	if len(errs) != 1 || !errors.Is(errs[0].Err, domain.ErrChannelClosed) {
		t.Errorf("error events = %v", errs)
	}
}

func TestDisconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, "orders")
	f.ctrl.Connect(ctx, id, explicit)

	if err := f.ctrl.Disconnect(ctx); err != nil {
		t.Fatal(err)
	}
	if got := f.status(t, id); got != domain.StatusDisconnected {
		t.Errorf("status = %s", got)
	}
	if f.channel.IsOpen() {
		t.Error("channel left open")
	}
	p, _ := f.reg.Get(ctx, id)
	if p.LastConnectedAt == nil {
		t.Error("LastConnectedAt cleared by disconnect")
	}
}

func TestDisconnect_RemoteErrorStillDisconnects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, "orders")
	f.ctrl.Connect(ctx, id, explicit)
	f.gw.disconnErr = domain.ErrGatewayUnavailable

	if err := f.ctrl.Disconnect(ctx); !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Errorf("error = %v, want the remote error", err)
	}
	if got := f.status(t, id); got != domain.StatusDisconnected {
		t.Errorf("status = %s, want disconnected", got)
	}
}

func TestDisconnect_NoActive(t *testing.T) {
	f := newFixture(t)
	if err := f.ctrl.Disconnect(context.Background()); !errors.Is(err, domain.ErrNoActiveConnection) {
		t.Errorf("error = %v", err)
	}
}

func TestSessionDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, "orders")
	f.ctrl.Connect(ctx, id, explicit)

	f.ctrl.SessionDropped(ctx)
	if got := f.status(t, id); got != domain.StatusDisconnected {
		t.Errorf("status = %s", got)
	}
	if f.channel.IsOpen() {
		t.Error("channel left open after drop")
	}
	if f.gw.disconnects.Load() != 0 {
		t.Error("dropped session should not call remote disconnect")
	}
}

func TestReconnect_DetectsDroppedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, "orders")
	f.ctrl.Connect(ctx, id, explicit)

	// The first open is not checked; a reconnect that finds the session
	// alive changes nothing.
	f.channel.fire(livechannel.Event{Topic: livechannel.TopicConnected})
	if n := f.gw.statusCalls.Load(); n != 0 {
		t.Errorf("status calls after first open = %d", n)
	}
	f.channel.fire(livechannel.Event{Topic: livechannel.TopicConnected, Attempt: 1})
	if got := f.status(t, id); got != domain.StatusConnected {
		t.Fatalf("status after healthy reconnect = %s", got)
	}

	f.gw.dropped.Store(true)
	f.channel.fire(livechannel.Event{Topic: livechannel.TopicConnected, Attempt: 2})
	if got := f.status(t, id); got != domain.StatusDisconnected {
		t.Errorf("status after gateway lost the session = %s", got)
	}
	if f.channel.IsOpen() {
		t.Error("channel left open after drop")
	}
	if f.gw.disconnects.Load() != 0 {
		t.Error("dropped session should not call remote disconnect")
	}
	if err := f.ctrl.Disconnect(ctx); err != nil {
		t.Errorf("Disconnect() after drop error = %v", err)
	}
}

func TestConnect_SupersededReleasesGatewaySession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.create(t, "x")
	y := f.create(t, "y")
	f.gw.block = make(chan struct{})
	f.gw.started = make(chan struct{}, 1)

	pending := f.ctrl.ConnectAsync(ctx, x, explicit)
	<-f.gw.started
	if err := f.ctrl.Activate(ctx, y); err != nil {
		t.Fatal(err)
	}
	close(f.gw.block)

	if err := <-pending; !errors.Is(err, domain.ErrNoActiveConnection) {
		t.Errorf("superseded Connect() error = %v", err)
	}
	if n := f.gw.disconnects.Load(); n != 1 {
		t.Errorf("gateway disconnects = %d, want 1", n)
	}
	for _, id := range []string{x, y} {
		if got := f.status(t, id); got != domain.StatusDisconnected {
			t.Errorf("%s status = %s", id, got)
		}
	}
}

func TestConnect_StaleFlagStillUsesVault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, "orders")
	f.ctrl.Unlock(ctx, testPassphrase)
	if err := f.vault.Store(ctx, id, domain.Secret{Username: "svc", Password: "stored"}, testPassphrase); err != nil {
		t.Fatal(err)
	}
	// A reconciled remote view cleared the cached flag.
	f.reg.SetHasStoredSecret(ctx, id, false)

	if err := f.ctrl.Connect(ctx, id, ConnectOptions{}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if f.gw.lastSecret == nil || f.gw.lastSecret.Password != "stored" {
		t.Errorf("secret sent = %+v", f.gw.lastSecret)
	}
}

func TestActivate_SwitchDisconnectsPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, "a")
	b := f.create(t, "b")
	f.ctrl.Connect(ctx, a, explicit)

	if err := f.ctrl.Activate(ctx, b); err != nil {
		t.Fatal(err)
	}
	if got := f.status(t, a); got != domain.StatusDisconnected {
		t.Errorf("previous status = %s", got)
	}
	if f.ctrl.Active() != b {
		t.Errorf("Active() = %q", f.ctrl.Active())
	}
	if err := f.ctrl.Activate(ctx, "qdcp-missing"); !errors.Is(err, domain.ErrUnknownConnection) {
		t.Errorf("Activate(missing) error = %v", err)
	}
	if f.ctrl.Active() != b {
		t.Error("failed activation changed the active id")
	}
}

type recordingNav struct{ entered []domain.Profile }

func (n *recordingNav) Enter(_ context.Context, p domain.Profile) { n.entered = append(n.entered, p) }

func TestActivateAndEnter_SkipsConnectWithoutStoredSecret(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "orders")
	nav := &recordingNav{}

	if err := f.ctrl.ActivateAndEnter(context.Background(), id, nav); err != nil {
		t.Fatal(err)
	}
	if f.gw.connects.Load() != 0 {
		t.Error("auto-connect attempted without stored secret")
	}
	if len(nav.entered) != 1 || nav.entered[0].ID != id {
		t.Errorf("entered = %v", nav.entered)
	}
}

func TestActivateAndEnter_FailureStillNavigates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, "orders")
	f.vault.Store(ctx, id, domain.Secret{Password: "pw"}, testPassphrase)
	f.ctrl.Unlock(ctx, testPassphrase)
	f.gw.connectErr = domain.ErrRemoteConnectFailed.WithDetails("host unreachable")
	nav := &recordingNav{}

	if err := f.ctrl.ActivateAndEnter(ctx, id, nav); err != nil {
		t.Fatalf("ActivateAndEnter() error = %v", err)
	}
	if f.gw.connects.Load() != 1 {
		t.Error("auto-connect not attempted")
	}
	if len(nav.entered) != 1 || nav.entered[0].Status != domain.StatusFailed {
		t.Errorf("entered = %+v", nav.entered)
	}
	if len(f.recorded(EventError)) == 0 {
		t.Error("auto-connect failure not published")
	}
}

func TestDeleteActiveProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, "orders")
	f.vault.Store(ctx, id, domain.Secret{Password: "pw"}, testPassphrase)
	f.ctrl.Connect(ctx, id, explicit)

	if err := f.reg.Delete(ctx, id); err != nil {
		t.Fatal(err)
	}
	if f.ctrl.Active() != "" {
		t.Errorf("Active() = %q after delete", f.ctrl.Active())
	}
	if _, err := f.vault.Retrieve(ctx, id, testPassphrase); !errors.Is(err, domain.ErrSecretNotFound) {
		t.Errorf("Retrieve() after delete error = %v", err)
	}
	if f.channel.IsOpen() {
		t.Error("channel left open for deleted profile")
	}
}

func TestUnlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.ctrl.Unlock(ctx, "wrong"); !errors.Is(err, domain.ErrDecryptionFailed) {
		t.Errorf("Unlock(wrong) error = %v", err)
	}
	if err := f.ctrl.Unlock(ctx, testPassphrase); err != nil {
		t.Errorf("Unlock() error = %v", err)
	}
}

func TestStreamEventsForwarded(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "orders")
	f.ctrl.Connect(context.Background(), id, explicit)

	f.channel.fire(livechannel.Event{Topic: livechannel.TopicMessage, Message: livechannel.Pong{}})
	f.channel.fire(livechannel.Event{Topic: livechannel.TopicMaxReconnect, Err: domain.ErrMaxReconnectAttemptsReached})

	stream := f.recorded(EventStream)
	if len(stream) != 2 || stream[0].ProfileID != id {
		t.Fatalf("stream events = %+v", stream)
	}
	// Streaming loss never changes session state.
	if got := f.status(t, id); got != domain.StatusConnected {
		t.Errorf("status = %s", got)
	}
}

func TestSubscribe_PanicIsolatedAndCancel(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Subscribe(func(Event) { panic("bad subscriber") })
	var n atomic.Int32
	cancel := f.ctrl.Subscribe(func(Event) { n.Add(1) })

	id := f.create(t, "orders")
	f.ctrl.Connect(context.Background(), id, explicit)
	if n.Load() == 0 {
		t.Fatal("healthy subscriber starved by panicking one")
	}

	cancel()
	before := n.Load()
	f.ctrl.Disconnect(context.Background())
	if n.Load() != before {
		t.Error("cancelled subscriber still called")
	}
}

func TestSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.ctrl.Send(ctx, livechannel.Ping()); !errors.Is(err, domain.ErrChannelClosed) {
		t.Errorf("Send() before connect error = %v", err)
	}
	id := f.create(t, "orders")
	f.ctrl.Connect(ctx, id, explicit)
	if err := f.ctrl.Send(ctx, livechannel.StartStream()); err != nil {
		t.Errorf("Send() error = %v", err)
	}
}

func TestConnectAsync(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "orders")
	select {
	case err := <-f.ctrl.ConnectAsync(context.Background(), id, explicit):
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ConnectAsync never completed")
	}
}
