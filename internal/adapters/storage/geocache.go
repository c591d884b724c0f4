// Package storage holds the persistent collaborators: the bbolt geolocation
// cache, the sqlite record store and the S3 raw-log archiver.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"

	"github.com/xoelrdgz/logsift/internal/domain"
	"github.com/xoelrdgz/logsift/pkg/lru"
)

var ErrGeoCacheUnavailable = errors.New("geolocation cache unavailable")

var GeoBucket = []byte("geo")

const importBatchSize = 500

type GeoCacheConfig struct {
	DBPath       string
	HotCacheSize int
	ReadOnly     bool
	OpenTimeout  time.Duration
}

func DefaultGeoCacheConfig() GeoCacheConfig {
	return GeoCacheConfig{
		DBPath:       "./data/geo.db",
		HotCacheSize: 4096,
		OpenTimeout:  2 * time.Second,
	}
}

// GeoCache maps IP addresses to ip-api style geolocation entries.
//
// Lookup Flow:
//  1. LRU hot cache
//  2. bbolt "geo" bucket; hits are promoted to the hot cache
//
// Entries are stored as JSON so that a cache file exported by other tools can
// be imported without conversion.
type GeoCache struct {
	db     *bolt.DB
	dbPath string
	hot    *lru.Cache[string, domain.GeoLocation]
	count  atomic.Int64
}

func OpenGeoCache(cfg GeoCacheConfig) (*GeoCache, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultGeoCacheConfig().DBPath
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultGeoCacheConfig().OpenTimeout
	}

	if cfg.ReadOnly {
		if _, err := os.Stat(cfg.DBPath); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGeoCacheUnavailable, err)
		}
	} else if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create geo cache directory: %w", err)
	}

	db, err := bolt.Open(cfg.DBPath, 0o600, &bolt.Options{
		Timeout:    cfg.OpenTimeout,
		NoGrowSync: true,
		ReadOnly:   cfg.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrGeoCacheUnavailable, cfg.DBPath, err)
	}

	if !cfg.ReadOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(GeoBucket)
			return err
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create geo bucket: %w", err)
		}
	}

	c := &GeoCache{
		db:     db,
		dbPath: cfg.DBPath,
		hot:    lru.New[string, domain.GeoLocation](cfg.HotCacheSize),
	}

	var n int
	_ = db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(GeoBucket); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	c.count.Store(int64(n))

	log.Info().
		Str("db_path", cfg.DBPath).
		Int("entries", n).
		Bool("read_only", cfg.ReadOnly).
		Msg("Geolocation cache opened")

	return c, nil
}

// Lookup returns the cached entry for ip. Entries whose status is not
// "success" are returned as well; callers decide whether to use them.
func (c *GeoCache) Lookup(ip string) (domain.GeoLocation, bool) {
	if loc, ok := c.hot.Get(ip); ok {
		return loc, true
	}

	var (
		loc   domain.GeoLocation
		found bool
	)
	_ = c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(GeoBucket)
		if b == nil {
			return nil
		}
		data := b.Get([]byte(ip))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &loc); err != nil {
			log.Debug().Err(err).Str("ip", ip).Msg("Corrupt geolocation entry")
			return nil
		}
		found = true
		return nil
	})

	if found {
		c.hot.Put(ip, loc)
	}
	return loc, found
}

// Put stores one entry, replacing any previous value.
func (c *GeoCache) Put(ip string, loc domain.GeoLocation) error {
	n, err := c.writeBatch(map[string]domain.GeoLocation{ip: loc})
	if err != nil {
		return err
	}
	c.count.Add(int64(n))
	return nil
}

// Import reads a JSON object of ip -> entry and stores every entry.
//
// Returns:
//   - number of entries read from r
func (c *GeoCache) Import(ctx context.Context, r io.Reader) (int, error) {
	var entries map[string]domain.GeoLocation
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return 0, fmt.Errorf("decode geo cache: %w", err)
	}

	ips := make([]string, 0, len(entries))
	for ip := range entries {
		ips = append(ips, ip)
	}
	sort.Strings(ips)

	batch := make(map[string]domain.GeoLocation, importBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		added, err := c.writeBatch(batch)
		if err != nil {
			return err
		}
		c.count.Add(int64(added))
		batch = make(map[string]domain.GeoLocation, importBatchSize)
		return nil
	}

	for _, ip := range ips {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		batch[ip] = entries[ip]
		if len(batch) >= importBatchSize {
			if err := flush(); err != nil {
				return 0, err
			}
		}
	}
	if err := flush(); err != nil {
		return 0, err
	}

	log.Info().Int("entries", len(entries)).Str("db_path", c.dbPath).Msg("Imported geolocation cache")
	return len(entries), nil
}

// ImportFile imports a JSON cache file.
func (c *GeoCache) ImportFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return 0, fmt.Errorf("open geo cache file: %w", err)
	}
	defer f.Close()
	return c.Import(ctx, f)
}

// writeBatch stores entries in one transaction and returns how many keys were
// new.
func (c *GeoCache) writeBatch(entries map[string]domain.GeoLocation) (int, error) {
	added := 0
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(GeoBucket)
		if b == nil {
			return fmt.Errorf("bucket %q not found", GeoBucket)
		}
		for ip, loc := range entries {
			data, err := json.Marshal(loc)
			if err != nil {
				return fmt.Errorf("encode %s: %w", ip, err)
			}
			if b.Get([]byte(ip)) == nil {
				added++
			}
			if err := b.Put([]byte(ip), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("write geo entries: %w", err)
	}
	for ip := range entries {
		c.hot.Delete(ip)
	}
	return added, nil
}

// Snapshot returns every stored entry.
func (c *GeoCache) Snapshot() (map[string]domain.GeoLocation, error) {
	out := make(map[string]domain.GeoLocation)
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(GeoBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var loc domain.GeoLocation
			if err := json.Unmarshal(v, &loc); err != nil {
				return nil
			}
			out[string(k)] = loc
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot geo cache: %w", err)
	}
	return out, nil
}

func (c *GeoCache) Len() int {
	return int(c.count.Load())
}

func (c *GeoCache) HotStats() lru.Stats {
	return c.hot.Stats()
}

func (c *GeoCache) Close() error {
	if c.db == nil {
		return nil
	}
	log.Debug().Int64("entries", c.count.Load()).Msg("Closing geolocation cache")
	return c.db.Close()
}
