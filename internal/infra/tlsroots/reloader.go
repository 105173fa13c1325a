package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/yndnr/querydeck-go/internal/telemetry/logger"
)

// expiryWarning is how close to NotAfter a loaded certificate starts
// producing warnings.
const expiryWarning = 14 * 24 * time.Hour

// CertReloader serves the current server key pair and reloads it when the
// files change on disk.
type CertReloader struct {
	certFile string
	keyFile  string
	logger   logger.Logger
	debounce time.Duration

	mu   sync.RWMutex
	cert *tls.Certificate

	watcher  *fsnotify.Watcher
	timer    *time.Timer
	timerMu  sync.Mutex
	done     chan struct{}
	stopOnce sync.Once
}

// ReloaderOption configures a CertReloader.
type ReloaderOption func(*CertReloader)

// WithLogger sets the logger for the reloader.
func WithLogger(l logger.Logger) ReloaderOption {
	return func(r *CertReloader) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithDebounce sets how long to wait after the last file event.
func WithDebounce(d time.Duration) ReloaderOption {
	return func(r *CertReloader) { r.debounce = d }
}

// NewCertReloader loads the key pair once. Call Start to follow changes.
func NewCertReloader(certFile, keyFile string, opts ...ReloaderOption) (*CertReloader, error) {
	r := &CertReloader{
		certFile: certFile,
		keyFile:  keyFile,
		logger:   logger.Default(),
		debounce: 200 * time.Millisecond,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "tls")

	if err := r.reload(); err != nil {
		return nil, fmt.Errorf("tlsroots: initial load: %w", err)
	}
	return r, nil
}

// ServerConfig returns a server TLS config that always presents the most
// recently loaded certificate.
func (r *CertReloader) ServerConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: r.GetCertificate,
	}
}

// GetCertificate implements tls.Config.GetCertificate.
func (r *CertReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert, nil
}

// Start begins watching the directories holding the key pair. Editors and
// cert managers that replace files by rename are covered.
func (r *CertReloader) Start() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tlsroots: create watcher: %w", err)
	}
	dirs := map[string]bool{
		filepath.Dir(r.certFile): true,
		filepath.Dir(r.keyFile):  true,
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			w.Close()
			return fmt.Errorf("tlsroots: watch %s: %w", dir, err)
		}
	}
	r.watcher = w
	go r.loop()
	r.logger.Info("certificate watcher started", "cert_file", r.certFile)
	return nil
}

// Stop ends watching. It is safe to call more than once.
func (r *CertReloader) Stop() error {
	var err error
	r.stopOnce.Do(func() {
		close(r.done)
		r.timerMu.Lock()
		if r.timer != nil {
			r.timer.Stop()
		}
		r.timerMu.Unlock()
		if r.watcher != nil {
			err = r.watcher.Close()
		}
	})
	return err
}

func (r *CertReloader) loop() {
	certBase := filepath.Base(r.certFile)
	keyBase := filepath.Base(r.keyFile)
	for {
		select {
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			base := filepath.Base(ev.Name)
			if base != certBase && base != keyBase {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			r.schedule()
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("certificate watcher error", "error", err)
		case <-r.done:
			return
		}
	}
}

func (r *CertReloader) schedule() {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.debounce, func() {
		select {
		case <-r.done:
			return
		default:
		}
		if err := r.reload(); err != nil {
			// Keep serving the previous pair.
			r.logger.Error("certificate reload failed", "cert_file", r.certFile, "error", err)
		}
	})
}

func (r *CertReloader) reload() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("load key pair: %w", err)
	}
	if cert.Leaf == nil && len(cert.Certificate) > 0 {
		cert.Leaf, _ = x509.ParseCertificate(cert.Certificate[0])
	}

	r.mu.Lock()
	r.cert = &cert
	r.mu.Unlock()

	attrs := []any{"cert_file", r.certFile}
	if cert.Leaf != nil {
		attrs = append(attrs, "subject", cert.Leaf.Subject.CommonName, "not_after", cert.Leaf.NotAfter)
		if time.Until(cert.Leaf.NotAfter) < expiryWarning {
			r.logger.Warn("certificate expires soon", attrs...)
		}
	}
	r.logger.Info("certificate loaded", attrs...)
	return nil
}
