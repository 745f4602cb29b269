// Package cache is a content-addressable store of synthesized audio keyed by
// request fingerprint. It guarantees at most one in-flight synthesis per
// fingerprint and reclaims space by least-recent access.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackzampolin/narrator/internal/faults"
)

// DefaultMaxBytes is the capacity used when none is configured (2 GiB).
const DefaultMaxBytes int64 = 2 << 30

const (
	blobDir   = "blobs"
	blobExt   = ".audio"
	indexFile = "index.db"
)

// ErrInvalidFingerprint is returned for keys that are not hex SHA-256.
var ErrInvalidFingerprint = errors.New("invalid fingerprint")

// Config configures a Cache.
type Config struct {
	Dir      string
	MaxBytes int64
	Logger   *slog.Logger

	// Now overrides the clock (tests).
	Now func() time.Time
}

// Report is the result of Clear or Evict.
type Report struct {
	EntriesRemoved int   `json:"entries_removed" yaml:"entries_removed"`
	BytesFreed     int64 `json:"bytes_freed" yaml:"bytes_freed"`
}

// Stats summarizes cache contents and traffic since open.
type Stats struct {
	Dir        string `json:"dir" yaml:"dir"`
	Entries    int    `json:"entries" yaml:"entries"`
	TotalBytes int64  `json:"total_bytes" yaml:"total_bytes"`
	MaxBytes   int64  `json:"max_bytes" yaml:"max_bytes"`
	Hits       int64  `json:"hits" yaml:"hits"`
	Misses     int64  `json:"misses" yaml:"misses"`
	InFlight   int    `json:"in_flight" yaml:"in_flight"`
}

// Cache stores audio blobs on disk with a SQLite metadata index.
type Cache struct {
	dir      string
	maxBytes int64
	index    *Index
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	flights map[Fingerprint]*flight

	// evictMu serializes eviction and clear.
	evictMu sync.Mutex

	hits   atomic.Int64
	misses atomic.Int64
}

// flight is one in-progress synthesis. done closes once audio or err is set.
type flight struct {
	done  chan struct{}
	audio []byte
	err   error
}

// Token grants its holder the exclusive right to synthesize a fingerprint.
// Exactly one of Publish or Release must be called with it.
type Token struct {
	fp       Fingerprint
	flight   *flight
	finished atomic.Bool
}

// Fingerprint returns the key the token guards.
func (t *Token) Fingerprint() Fingerprint { return t.fp }

// FlightError is returned to waiters when the owner of a flight released it
// with an error. Waiters may retry independently.
type FlightError struct {
	Fingerprint Fingerprint
	Err         error
}

func (e *FlightError) Error() string {
	return fmt.Sprintf("synthesis of %s failed in another request: %v", e.Fingerprint.Short(), e.Err)
}

func (e *FlightError) Unwrap() error { return e.Err }

// Open creates the cache directory layout and opens the index.
func Open(ctx context.Context, cfg Config) (*Cache, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("cache dir is required")
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Join(cfg.Dir, blobDir), 0o755); err != nil {
		return nil, faults.Cache("create cache dir", err)
	}
	index, err := OpenIndex(ctx, filepath.Join(cfg.Dir, indexFile))
	if err != nil {
		return nil, faults.Cache("open cache index", err)
	}

	return &Cache{
		dir:      cfg.Dir,
		maxBytes: cfg.MaxBytes,
		index:    index,
		logger:   logger.With("component", "cache"),
		now:      cfg.Now,
		flights:  make(map[Fingerprint]*flight),
	}, nil
}

// Close closes the index.
func (c *Cache) Close() error {
	return c.index.Close()
}

// Dir returns the cache root.
func (c *Cache) Dir() string { return c.dir }

func (c *Cache) blobPath(fp Fingerprint) string {
	return filepath.Join(c.dir, blobDir, string(fp)+blobExt)
}

// Lookup returns cached audio for fp. A missing blob is a miss and its index
// row is dropped. Only hits are counted here; a miss is counted once, when
// AcquireOrWait hands out a token for the synthesis that follows.
func (c *Cache) Lookup(ctx context.Context, fp Fingerprint) ([]byte, bool, error) {
	if !fp.Valid() {
		return nil, false, faults.Cache("lookup", ErrInvalidFingerprint)
	}
	audio, ok, err := c.read(ctx, fp)
	if err != nil {
		return nil, false, err
	}
	if ok {
		c.hits.Add(1)
	}
	return audio, ok, nil
}

func (c *Cache) read(ctx context.Context, fp Fingerprint) ([]byte, bool, error) {
	_, ok, err := c.index.Get(ctx, fp)
	if err != nil {
		return nil, false, faults.Cache("read cache index", err)
	}
	if !ok {
		return nil, false, nil
	}

	audio, err := os.ReadFile(c.blobPath(fp))
	if errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn("cache blob missing, dropping entry", "fingerprint", fp.Short())
		if err := c.index.Delete(ctx, fp); err != nil {
			return nil, false, faults.Cache("drop stale entry", err)
		}
		return nil, false, nil
	}
	if err != nil {
		return nil, false, faults.Cache("read cache blob", err)
	}

	if err := c.index.Touch(ctx, fp, c.now()); err != nil {
		c.logger.Warn("failed to record cache access", "fingerprint", fp.Short(), "error", err)
	}
	return audio, true, nil
}

// AcquireOrWait returns cached audio if fp is already stored. Otherwise the
// first caller receives a Token and every concurrent caller for the same
// fingerprint blocks until the token is published or released. Waiters get
// the published audio, or a *FlightError if the owner failed.
func (c *Cache) AcquireOrWait(ctx context.Context, fp Fingerprint) (*Token, []byte, error) {
	if !fp.Valid() {
		return nil, nil, faults.Cache("acquire", ErrInvalidFingerprint)
	}

	c.mu.Lock()
	if f, ok := c.flights[fp]; ok {
		c.mu.Unlock()
		c.logger.Debug("waiting on in-flight synthesis", "fingerprint", fp.Short())
		select {
		case <-f.done:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
		if f.err != nil {
			return nil, nil, &FlightError{Fingerprint: fp, Err: f.err}
		}
		c.hits.Add(1)
		return nil, f.audio, nil
	}
	f := &flight{done: make(chan struct{})}
	c.flights[fp] = f
	c.mu.Unlock()

	tok := &Token{fp: fp, flight: f}

	// The flight is registered before the store is checked so a concurrent
	// publisher cannot slip between the check and the registration.
	audio, ok, err := c.read(ctx, fp)
	if err != nil {
		c.finish(tok, nil, err)
		return nil, nil, err
	}
	if ok {
		c.hits.Add(1)
		c.finish(tok, audio, nil)
		return nil, audio, nil
	}
	c.misses.Add(1)
	return tok, nil, nil
}

// Publish stores audio for the token's fingerprint and hands it to every
// waiter. Waiters receive the audio even when storing it fails; the store
// failure is returned to the caller.
func (c *Cache) Publish(ctx context.Context, tok *Token, audio []byte) error {
	if tok == nil {
		return nil
	}
	storeErr := c.store(ctx, tok.fp, audio)
	c.finish(tok, audio, nil)
	if storeErr != nil {
		return storeErr
	}

	if _, err := c.Evict(ctx); err != nil {
		c.logger.Warn("eviction failed", "error", err)
	}
	return nil
}

// Release ends the token's flight with err so waiters can retry on their own.
func (c *Cache) Release(tok *Token, err error) {
	if tok == nil {
		return
	}
	if err == nil {
		err = errors.New("released without result")
	}
	c.finish(tok, nil, err)
}

func (c *Cache) finish(tok *Token, audio []byte, err error) {
	if !tok.finished.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	if c.flights[tok.fp] == tok.flight {
		delete(c.flights, tok.fp)
	}
	c.mu.Unlock()

	tok.flight.audio = audio
	tok.flight.err = err
	close(tok.flight.done)
}

func (c *Cache) store(ctx context.Context, fp Fingerprint, audio []byte) error {
	path := c.blobPath(fp)
	tmp, err := os.CreateTemp(filepath.Dir(path), "tmp-*")
	if err != nil {
		return faults.Cache("create cache blob", err)
	}
	if _, err := tmp.Write(audio); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return faults.Cache("write cache blob", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return faults.Cache("close cache blob", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return faults.Cache("commit cache blob", err)
	}

	now := c.now()
	if err := c.index.Put(ctx, Entry{Fingerprint: fp, Size: int64(len(audio)), CreatedAt: now, LastAccessAt: now}); err != nil {
		os.Remove(path)
		return faults.Cache("index cache blob", err)
	}
	c.logger.Debug("cached audio", "fingerprint", fp.Short(), "bytes", len(audio))
	return nil
}

// Evict removes least-recently accessed entries until the total size is
// within capacity.
func (c *Cache) Evict(ctx context.Context) (Report, error) {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	var report Report
	_, total, err := c.index.Totals(ctx)
	if err != nil {
		return report, faults.Cache("read cache size", err)
	}

	for total > c.maxBytes {
		victims, err := c.index.LeastRecent(ctx, 32)
		if err != nil {
			return report, faults.Cache("select eviction victims", err)
		}
		if len(victims) == 0 {
			break
		}
		for _, e := range victims {
			if total <= c.maxBytes {
				break
			}
			if err := c.remove(ctx, e.Fingerprint); err != nil {
				return report, err
			}
			total -= e.Size
			report.EntriesRemoved++
			report.BytesFreed += e.Size
		}
	}

	if report.EntriesRemoved > 0 {
		c.logger.Info("evicted cache entries", "entries", report.EntriesRemoved, "bytes", report.BytesFreed)
	}
	return report, nil
}

// Clear removes every entry and reports what was freed. In-flight syntheses
// are unaffected and will store their results when they finish.
func (c *Cache) Clear(ctx context.Context) (Report, error) {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	var report Report
	entries, err := c.index.All(ctx)
	if err != nil {
		return report, faults.Cache("list cache entries", err)
	}
	for _, e := range entries {
		if err := c.remove(ctx, e.Fingerprint); err != nil {
			return report, err
		}
		report.EntriesRemoved++
		report.BytesFreed += e.Size
	}
	c.logger.Info("cleared cache", "entries", report.EntriesRemoved, "bytes", report.BytesFreed)
	return report, nil
}

func (c *Cache) remove(ctx context.Context, fp Fingerprint) error {
	if err := c.index.Delete(ctx, fp); err != nil {
		return faults.Cache("delete cache entry", err)
	}
	if err := os.Remove(c.blobPath(fp)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return faults.Cache("delete cache blob", err)
	}
	return nil
}

// Stats reports current contents and hit counters.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	count, total, err := c.index.Totals(ctx)
	if err != nil {
		return Stats{}, faults.Cache("read cache size", err)
	}
	c.mu.Lock()
	inFlight := len(c.flights)
	c.mu.Unlock()
	return Stats{
		Dir:        c.dir,
		Entries:    count,
		TotalBytes: total,
		MaxBytes:   c.maxBytes,
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		InFlight:   inFlight,
	}, nil
}
