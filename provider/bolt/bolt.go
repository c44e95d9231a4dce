// Package bolt stores tile payloads on disk in a go.etcd.io/bbolt file so a warm
// tile cache survives restarts.
//
// Each value is stored as expiresAt(i64 be, unix nanos, 0=none) | payload.
// Expired values read as misses and are deleted lazily or by Sweep.
package bolt

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.etcd.io/bbolt"

	pr "github.com/unkn0wn-root/tilepyramid/provider"
)

var defaultBucket = []byte("tiles")

const stampLen = 8

type Provider struct {
	db     *bbolt.DB
	bucket []byte
	clock  clock.Clock

	stop     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	Path   string
	Bucket string        // default "tiles"
	Open   time.Duration // file lock timeout; 0 = 1s
	// SweepInterval > 0 starts a background loop deleting expired values.
	SweepInterval time.Duration
	Clock         clock.Clock // nil => wall clock
}

func New(cfg Config) (*Provider, error) {
	if cfg.Path == "" {
		return nil, errors.New("bolt: Path is required")
	}
	timeout := cfg.Open
	if timeout <= 0 {
		timeout = time.Second
	}
	db, err := bbolt.Open(cfg.Path, 0o600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, err
	}
	p := &Provider{db: db, bucket: defaultBucket, clock: cfg.Clock, stop: make(chan struct{})}
	if cfg.Bucket != "" {
		p.bucket = []byte(cfg.Bucket)
	}
	if p.clock == nil {
		p.clock = clock.New()
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(p.bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	if cfg.SweepInterval > 0 {
		p.wg.Add(1)
		go p.sweepLoop(cfg.SweepInterval)
	}
	return p, nil
}

func (p *Provider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		out     []byte
		expired bool
	)
	err := p.db.View(func(tx *bbolt.Tx) error {
		// the value returned by Get is only valid inside the transaction
		raw := tx.Bucket(p.bucket).Get([]byte(key))
		if len(raw) < stampLen {
			return nil
		}
		if p.expired(raw) {
			expired = true
			return nil
		}
		out = append([]byte{}, raw[stampLen:]...)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if expired {
		_ = p.Del(ctx, key)
		return nil, false, nil
	}
	return out, out != nil, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	buf := make([]byte, stampLen+len(value))
	var exp int64
	if ttl > 0 {
		exp = p.clock.Now().Add(ttl).UnixNano()
	}
	binary.BigEndian.PutUint64(buf, uint64(exp))
	copy(buf[stampLen:], value)

	err := p.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(p.bucket).Put([]byte(key), buf)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	return p.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(p.bucket).Delete([]byte(key))
	})
}

// Sweep deletes every expired value and reports how many were removed.
func (p *Provider) Sweep(ctx context.Context) (int, error) {
	n := 0
	err := p.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(p.bucket)
		var dead [][]byte
		err := b.ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if len(v) < stampLen || p.expired(v) {
				dead = append(dead, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range dead {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		n = len(dead)
		return nil
	})
	return n, err
}

func (p *Provider) expired(raw []byte) bool {
	exp := int64(binary.BigEndian.Uint64(raw[:stampLen]))
	return exp != 0 && p.clock.Now().UnixNano() >= exp
}

func (p *Provider) sweepLoop(every time.Duration) {
	defer p.wg.Done()
	t := p.clock.Ticker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_, _ = p.Sweep(context.Background())
		case <-p.stop:
			return
		}
	}
}

// Close stops the sweep loop and closes the file. Safe to call multiple times.
func (p *Provider) Close(_ context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		close(p.stop)
		p.wg.Wait()
		err = p.db.Close()
	})
	return err
}
