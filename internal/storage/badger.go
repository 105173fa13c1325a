package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/querydeck-go/internal/telemetry/logger"
)

// BadgerKV implements KV using Badger v3.
type BadgerKV struct {
	db     *badger.DB
	cfg    Config
	logger logger.Logger

	metricsLSMSize      prometheus.Gauge
	metricsValueLogSize prometheus.Gauge

	stopCh chan struct{}
	doneCh chan struct{}
}

// BadgerOption configures a BadgerKV.
type BadgerOption func(*BadgerKV)

// WithLogger sets the logger used for engine and badger-internal messages.
func WithLogger(l logger.Logger) BadgerOption {
	return func(b *BadgerKV) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBadgerKV opens (or creates) a badger store under cfg.Dir.
func NewBadgerKV(cfg Config, opts ...BadgerOption) (*BadgerKV, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("badger: dir is required")
	}

	kv := &BadgerKV{
		cfg:    cfg,
		logger: logger.Default(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(kv)
	}

	bopts := badger.DefaultOptions(cfg.Dir)
	bopts.Logger = &badgerLogger{logger: kv.logger.With("component", "badger")}
	bopts.SyncWrites = cfg.SyncWrites
	// Profiles and vault entries are small; keep the footprint of an
	// embedded CLI store modest.
	bopts.ValueLogFileSize = 64 << 20
	bopts.BlockCacheSize = 8 << 20
	bopts.NumMemtables = 2

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}
	kv.db = db

	go kv.gcLoop()

	kv.logger.Debug("badger store opened", "dir", cfg.Dir)
	return kv, nil
}

// Get retrieves a value by key.
func (b *BadgerKV) Get(ctx context.Context, key []byte) ([]byte, error) {
	var value []byte

	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrKeyNotFound
			}
			return err
		}

		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set stores a key-value pair.
func (b *BadgerKV) Set(ctx context.Context, key, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Delete removes a key.
func (b *BadgerKV) Delete(ctx context.Context, key []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// Scan iterates over keys with a given prefix.
func (b *BadgerKV) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !fn(item.KeyCopy(nil), value) {
				break
			}
		}
		return nil
	})
}

// Close stops the GC loop and closes the database.
func (b *BadgerKV) Close() error {
	close(b.stopCh)
	<-b.doneCh

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	b.logger.Debug("badger store closed")
	return nil
}

// RegisterMetrics registers size gauges with reg and keeps them updated.
func (b *BadgerKV) RegisterMetrics(reg prometheus.Registerer) *BadgerKV {
	b.metricsLSMSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "querydeck",
		Subsystem: "badger",
		Name:      "lsm_size_bytes",
		Help:      "Badger LSM tree size in bytes",
	})
	b.metricsValueLogSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "querydeck",
		Subsystem: "badger",
		Name:      "value_log_size_bytes",
		Help:      "Badger value log size in bytes",
	})
	reg.MustRegister(b.metricsLSMSize, b.metricsValueLogSize)
	b.updateMetrics()
	return b
}

func (b *BadgerKV) updateMetrics() {
	if b.metricsLSMSize == nil {
		return
	}
	lsm, vlog := b.db.Size()
	b.metricsLSMSize.Set(float64(lsm))
	b.metricsValueLogSize.Set(float64(vlog))
}

// gcLoop runs periodic value log garbage collection.
func (b *BadgerKV) gcLoop() {
	defer close(b.doneCh)

	interval := b.cfg.GCInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	threshold := b.cfg.GCThreshold
	if threshold <= 0 || threshold >= 1 {
		threshold = 0.5
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for {
				err := b.db.RunValueLogGC(threshold)
				if err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						b.logger.Warn("value log gc failed", "error", err)
					}
					break
				}
			}
			b.updateMetrics()
		case <-b.stopCh:
			return
		}
	}
}

// badgerLogger adapts logger.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger logger.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

// Badger is chatty at info level; demote to debug.
func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
