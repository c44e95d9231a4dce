// Package sqlite stores tile payloads in a SQLite file, schema managed by goose.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	pr "github.com/unkn0wn-root/tilepyramid/provider"
)

//go:embed migrations/*.sql
var migrations embed.FS

// goose keeps its FS and dialect in package globals.
var migrateMu sync.Mutex

type Provider struct {
	db    *sql.DB
	clock clock.Clock

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 = 5s
	// SweepInterval > 0 starts a background loop deleting expired rows.
	SweepInterval time.Duration
	Clock         clock.Clock // nil => wall clock
}

func New(cfg Config) (*Provider, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite: Path is required")
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL", cfg.Path, busy.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	p := &Provider{db: db, clock: cfg.Clock, stop: make(chan struct{})}
	if p.clock == nil {
		p.clock = clock.New()
	}
	if cfg.SweepInterval > 0 {
		p.wg.Add(1)
		go p.sweepLoop(cfg.SweepInterval)
	}
	return p, nil
}

func migrate(db *sql.DB) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

func (p *Provider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	const q = `SELECT tile_data, expires_at FROM tile_cache WHERE cache_key = ?`
	var (
		data []byte
		exp  int64
	)
	err := p.db.QueryRowContext(ctx, q, key).Scan(&data, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if exp != 0 && p.clock.Now().UnixNano() >= exp {
		_ = p.Del(ctx, key)
		return nil, false, nil
	}
	if data == nil {
		data = []byte{}
	}
	return data, true, nil
}

func (p *Provider) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	const q = `INSERT INTO tile_cache (cache_key, tile_data, expires_at)
	VALUES (?, ?, ?)
	ON CONFLICT(cache_key) DO UPDATE SET tile_data = excluded.tile_data, expires_at = excluded.expires_at`

	var exp int64
	if ttl > 0 {
		exp = p.clock.Now().Add(ttl).UnixNano()
	}
	if value == nil {
		value = []byte{}
	}
	if _, err := p.db.ExecContext(ctx, q, key, value, exp); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) Del(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM tile_cache WHERE cache_key = ?`, key)
	return err
}

// Sweep deletes expired rows and reports how many were removed.
func (p *Provider) Sweep(ctx context.Context) (int64, error) {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM tile_cache WHERE expires_at != 0 AND expires_at <= ?`, p.clock.Now().UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
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

// Close stops the sweep loop and closes the database. Safe to call multiple times.
func (p *Provider) Close(context.Context) error {
	var err error
	p.once.Do(func() {
		close(p.stop)
		p.wg.Wait()
		err = p.db.Close()
	})
	return err
}
