// Package collection is the aggregate root of a learning collection: the
// storage handle plus access to the JSON documents kept on the col row
// (config, note types, decks, tag registry) and the bookkeeping around
// deleting notes and cards.
package collection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/conorfennell/knolfix/internal/sched"
	"github.com/conorfennell/knolfix/internal/storage"
)

// SchemaVersion is the version stamped on newly created collections.
const SchemaVersion = 11

var (
	// ErrNoCollection is returned when a database file holds no collection row.
	ErrNoCollection = errors.New("no collection found")
	// ErrCollectionExists is returned by Create for an initialized file.
	ErrCollectionExists = errors.New("collection already exists")
)

// Collection is an open learning collection.
type Collection struct {
	db    *storage.DB
	clock *sched.Clock
	now   func() time.Time

	pendingConf map[string]any
}

// Option configures how a collection is opened.
type Option func(*options)

type options struct {
	rolloverHour int
	storage      []storage.Option
	now          func() time.Time
}

// WithRolloverHour sets the local hour at which a new scheduler day starts.
func WithRolloverHour(hour int) Option {
	return func(o *options) {
		o.rolloverHour = hour
	}
}

// WithStorageOptions passes options through to the storage layer.
func WithStorageOptions(opts ...storage.Option) Option {
	return func(o *options) {
		o.storage = append(o.storage, opts...)
	}
}

// WithNow overrides the wall clock used for timestamps and scheduler days.
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{rolloverHour: sched.DefaultRolloverHour, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open opens an existing collection file.
func Open(ctx context.Context, path string, opts ...Option) (*Collection, error) {
	o := buildOptions(opts)

	db, err := storage.Open(ctx, path, o.storage...)
	if err != nil {
		return nil, err
	}

	var crt int64
	err = db.RunInTx(ctx, func(tx *storage.Tx) error {
		n, err := tx.QueryScalar(ctx, `SELECT count(*) FROM col`)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNoCollection
		}
		crt, err = tx.QueryScalar(ctx, `SELECT crt FROM col`)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open collection %s: %w", path, err)
	}

	return newCollection(db, crt, o), nil
}

// Create initializes a new, empty collection file with a default deck.
func Create(ctx context.Context, path string, opts ...Option) (*Collection, error) {
	o := buildOptions(opts)

	db, err := storage.Open(ctx, path, o.storage...)
	if err != nil {
		return nil, err
	}

	now := o.now()
	crt := time.Date(now.Year(), now.Month(), now.Day(), o.rolloverHour, 0, 0, 0, now.Location()).Unix()
	err = db.RunInTx(ctx, func(tx *storage.Tx) error {
		n, err := tx.QueryScalar(ctx, `SELECT count(*) FROM col`)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrCollectionExists
		}

		conf, _ := json.Marshal(map[string]any{"nextPos": 1, "curDeck": 1})
		decks, _ := json.Marshal(map[string]any{
			"1": map[string]any{"id": 1, "name": "Default", "dyn": 0, "conf": 1, "mod": now.Unix(), "usn": 0},
		})
		dconf, _ := json.Marshal(map[string]any{
			"1": map[string]any{"id": 1, "name": "Default", "mod": 0, "usn": 0},
		})
		return tx.Exec(ctx, `
			INSERT INTO col (id, crt, mod, scm, ver, dty, usn, ls, conf, models, decks, dconf, tags)
			VALUES (1, ?, ?, ?, ?, 0, 0, 0, ?, '{}', ?, ?, '{}')
		`, crt, now.UnixMilli(), now.UnixMilli(), SchemaVersion, string(conf), string(decks), string(dconf))
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create collection %s: %w", path, err)
	}

	return newCollection(db, crt, o), nil
}

func newCollection(db *storage.DB, crt int64, o options) *Collection {
	clock := sched.NewClock(crt, o.rolloverHour)
	clock.Now = o.now
	return &Collection{
		db:          db,
		clock:       clock,
		now:         o.now,
		pendingConf: make(map[string]any),
	}
}

// Close closes the underlying database.
func (c *Collection) Close() error {
	return c.db.Close()
}

// DB returns the storage handle of the collection.
func (c *Collection) DB() *storage.DB {
	return c.db
}

// Path returns the collection file path.
func (c *Collection) Path() string {
	return c.db.Path()
}

// Now returns the current wall-clock time.
func (c *Collection) Now() time.Time {
	return c.now()
}

// Today returns the scheduler day number.
func (c *Collection) Today() int {
	return c.clock.Today()
}

// Usn returns the update sequence number local changes are stamped with.
func (c *Collection) Usn(ctx context.Context, tx *storage.Tx) (int, error) {
	usn, err := tx.QueryScalar(ctx, `SELECT usn FROM col`)
	if err != nil {
		return 0, fmt.Errorf("failed to read usn: %w", err)
	}
	return int(usn), nil
}

// SetConf queues a config change. It is written by the next Save and
// dropped from the queue once that transaction commits.
func (c *Collection) SetConf(key string, value any) {
	c.pendingConf[key] = value
}

// Save writes pending in-memory state to storage.
func (c *Collection) Save(ctx context.Context, tx *storage.Tx) error {
	if len(c.pendingConf) == 0 {
		return nil
	}
	conf, err := c.Conf(ctx, tx)
	if err != nil {
		return err
	}
	written := make([]string, 0, len(c.pendingConf))
	for k, v := range c.pendingConf {
		conf[k] = v
		written = append(written, k)
	}
	if err := c.writeConf(ctx, tx, conf); err != nil {
		return err
	}
	// Pending changes stay queued until the write is durable.
	tx.OnCommit(func() {
		for _, k := range written {
			delete(c.pendingConf, k)
		}
	})
	return nil
}

// Conf returns the collection config document.
func (c *Collection) Conf(ctx context.Context, tx *storage.Tx) (map[string]any, error) {
	raw, err := tx.QueryString(ctx, `SELECT conf FROM col`)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	conf := make(map[string]any)
	if err := decodeJSON(raw, &conf); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return conf, nil
}

// ConfInt returns an integer config value.
func (c *Collection) ConfInt(ctx context.Context, tx *storage.Tx, key string) (int64, bool, error) {
	conf, err := c.Conf(ctx, tx)
	if err != nil {
		return 0, false, err
	}
	v, ok := conf[key]
	if !ok {
		return 0, false, nil
	}
	n, ok := v.(json.Number)
	if !ok {
		return 0, false, fmt.Errorf("config key %s is not a number", key)
	}
	i, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil {
			return 0, false, fmt.Errorf("config key %s: %w", key, err)
		}
		i = int64(f)
	}
	return i, true, nil
}

// PutConf sets a config value within the transaction.
func (c *Collection) PutConf(ctx context.Context, tx *storage.Tx, key string, value any) error {
	conf, err := c.Conf(ctx, tx)
	if err != nil {
		return err
	}
	conf[key] = value
	return c.writeConf(ctx, tx, conf)
}

func (c *Collection) writeConf(ctx context.Context, tx *storage.Tx, conf map[string]any) error {
	raw, err := json.Marshal(conf)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := tx.Exec(ctx, `UPDATE col SET conf = ?, mod = ?`, string(raw), c.now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ModSchema marks the schema as modified so that the next sync has to be a
// full one. It runs outside of any transaction.
func (c *Collection) ModSchema(ctx context.Context) error {
	now := c.now().UnixMilli()
	if err := c.db.Exec(ctx, `UPDATE col SET scm = max(?, scm + 1), mod = ?`, now, now); err != nil {
		return fmt.Errorf("failed to mark schema modified: %w", err)
	}
	return nil
}

// SchemaModified reports whether the schema changed since the last sync.
func (c *Collection) SchemaModified(ctx context.Context) (bool, error) {
	var modified bool
	err := c.db.RunInTx(ctx, func(tx *storage.Tx) error {
		n, err := tx.QueryScalar(ctx, `SELECT scm > ls FROM col`)
		modified = n != 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to read schema state: %w", err)
	}
	return modified, nil
}

// MarkSynced records a completed sync, clearing the schema-modified state.
func (c *Collection) MarkSynced(ctx context.Context) error {
	if err := c.db.Exec(ctx, `UPDATE col SET ls = scm`); err != nil {
		return fmt.Errorf("failed to mark collection synced: %w", err)
	}
	return nil
}

func decodeJSON(raw string, v any) error {
	if raw == "" {
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}
