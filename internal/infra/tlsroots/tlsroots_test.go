package tlsroots

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yndnr/querydeck-go/internal/telemetry/logger"
)

// writeCertPair writes a self-signed localhost certificate and its key.
func writeCertPair(t *testing.T, certFile, keyFile, cn string) *x509.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	serial, _ := rand.Int(rand.Reader, big.NewInt(1_000_000))

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"QueryDeck Test"}, CommonName: cn},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate() error = %v", err)
	}
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644); err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatal(err)
	}
	cert, _ := x509.ParseCertificate(der)
	return cert
}

func TestAddCertPEM(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "ca.crt")
	writeCertPair(t, certFile, filepath.Join(dir, "ca.key"), "ca")

	pool := NewEmptyPool()
	if err := pool.AddCertFile(certFile); err != nil {
		t.Fatalf("AddCertFile() error = %v", err)
	}

	if err := pool.AddCertPEM([]byte{}); !errors.Is(err, ErrNoCertsFound) {
		t.Errorf("AddCertPEM(empty) error = %v, want %v", err, ErrNoCertsFound)
	}

	keyOnly, _ := os.ReadFile(filepath.Join(dir, "ca.key"))
	if err := pool.AddCertPEM(keyOnly); !errors.Is(err, ErrNoCertsFound) {
		t.Errorf("AddCertPEM(key only) error = %v, want %v", err, ErrNoCertsFound)
	}

	bad := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte("garbage")})
	if err := pool.AddCertPEM(bad); err == nil {
		t.Error("expected parse error for invalid certificate")
	}

	if err := pool.AddCertFile(filepath.Join(dir, "missing.crt")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestClientTLSConfig(t *testing.T) {
	cfg, err := ClientTLSConfig("")
	if err != nil || cfg != nil {
		t.Errorf("ClientTLSConfig(\"\") = %v, %v; want nil, nil", cfg, err)
	}

	if _, err := ClientTLSConfig(filepath.Join(t.TempDir(), "nope.pem")); err == nil {
		t.Error("expected error for missing CA file")
	}
}

// servedCommonName fetches url trusting only certFile and returns the
// subject of the certificate the server presented.
func servedCommonName(t *testing.T, url, certFile string) string {
	t.Helper()
	clientCfg, err := ClientTLSConfig(certFile)
	if err != nil {
		t.Fatal(err)
	}
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: clientCfg, DisableKeepAlives: true}}
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("GET over TLS: %v", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.TLS.PeerCertificates[0].Subject.CommonName
}

func TestCertReloader_ServesAndReloads(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "server.crt")
	keyFile := filepath.Join(dir, "server.key")
	writeCertPair(t, certFile, keyFile, "first")

	r, err := NewCertReloader(certFile, keyFile,
		WithLogger(logger.Discard()),
		WithDebounce(20*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("NewCertReloader() error = %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	defer r.Stop()

	// Only GetCertificate supplies certificates, the way the gateway serves.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "ok")
	})}
	go srv.Serve(tls.NewListener(ln, r.ServerConfig()))
	defer srv.Close()
	url := "https://" + ln.Addr().String()

	if cn := servedCommonName(t, url, certFile); cn != "first" {
		t.Fatalf("served certificate = %q, want first", cn)
	}

	writeCertPair(t, certFile, keyFile, "second")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		c, _ := r.GetCertificate(nil)
		if c != nil && c.Leaf != nil && c.Leaf.Subject.CommonName == "second" {
			if cn := servedCommonName(t, url, certFile); cn != "second" {
				t.Errorf("served certificate after reload = %q", cn)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("certificate was not reloaded")
}

func TestCertReloader_KeepsPreviousOnBadFile(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "server.crt")
	keyFile := filepath.Join(dir, "server.key")
	writeCertPair(t, certFile, keyFile, "good")

	r, err := NewCertReloader(certFile, keyFile, WithLogger(logger.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	os.WriteFile(certFile, []byte("not a cert"), 0o644)
	if err := r.reload(); err == nil {
		t.Fatal("expected reload error")
	}
	c, _ := r.GetCertificate(nil)
	if c == nil || c.Leaf.Subject.CommonName != "good" {
		t.Error("previous certificate should stay in place")
	}
	if err := r.Stop(); err != nil {
		t.Errorf("Stop() without Start error = %v", err)
	}
}

func TestNewCertReloader_Missing(t *testing.T) {
	if _, err := NewCertReloader("/nonexistent/a.crt", "/nonexistent/a.key"); err == nil {
		t.Error("expected error for missing key pair")
	}
}
