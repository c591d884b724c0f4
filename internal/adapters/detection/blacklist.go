// Package detection implements the batch detectors: frequency outliers,
// blacklist membership, keyword and signature classifiers, bursts and
// sessions.
//
// Every detector is a pure function of the record slice it is given. None
// reorders or mutates the caller's slice; detectors that need time order sort
// a private copy. This lets the engine run them concurrently over one batch.
package detection

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/logsift/internal/domain"
	"github.com/xoelrdgz/logsift/internal/ports"
	"github.com/xoelrdgz/logsift/pkg/bloomfilter"
)

var ErrBlacklistUnavailable = errors.New("blacklist unavailable")

// blacklistData is replaced as a whole on reload.
type blacklistData struct {
	bloom *bloomfilter.Filter
	addrs map[string]string
}

// Blacklist is a read-mostly set of listed addresses.
//
// Lookup Flow:
//  1. Bloom filter rejects most unlisted addresses without touching the map
//  2. A bloom positive is confirmed against the exact map
//
// Reloads build a fresh data set and publish it with an atomic pointer swap,
// so lookups never block.
type Blacklist struct {
	data   atomic.Pointer[blacklistData]
	cfg    BlacklistConfig
	loadMu sync.Mutex
}

type BlacklistConfig struct {
	ExpectedSize      int     // Bloom sizing hint
	FalsePositiveRate float64 // Bloom target FP rate, e.g. 0.01
}

func DefaultBlacklistConfig() BlacklistConfig {
	return BlacklistConfig{
		ExpectedSize:      10000,
		FalsePositiveRate: 0.01,
	}
}

func NewBlacklist(cfg BlacklistConfig) *Blacklist {
	b := &Blacklist{cfg: cfg}
	b.data.Store(&blacklistData{
		bloom: bloomfilter.New(cfg.ExpectedSize, cfg.FalsePositiveRate),
		addrs: make(map[string]string),
	})
	return b
}

// EmptyBlacklist is the collaborator used when no blacklist is configured.
// It matches nothing.
func EmptyBlacklist() *Blacklist {
	return NewBlacklist(BlacklistConfig{ExpectedSize: 1})
}

// Load replaces the contents from a file.
//
// File Format:
//   - one address per line
//   - "address,source" annotations are accepted; the source is kept for Source
//   - blank lines and lines starting with # are skipped
//   - entries that are not valid addresses are skipped
//
// Returns:
//   - ErrBlacklistUnavailable (wrapped) when the file cannot be opened
//   - the number of addresses loaded
func (b *Blacklist) Load(ctx context.Context, path string) (int, error) {
	cleanPath := filepath.Clean(path)

	f, err := os.Open(cleanPath)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBlacklistUnavailable, err)
	}
	defer f.Close()

	n, err := b.LoadReader(ctx, f)
	if err != nil {
		return 0, err
	}
	log.Info().Int("count", n).Str("file", cleanPath).Msg("Loaded blacklist")
	return n, nil
}

// LoadReader replaces the contents from r. On error the previous contents
// stay in place.
func (b *Blacklist) LoadReader(ctx context.Context, r io.Reader) (int, error) {
	b.loadMu.Lock()
	defer b.loadMu.Unlock()

	bloom := bloomfilter.New(b.cfg.ExpectedSize, b.cfg.FalsePositiveRate)
	addrs := make(map[string]string)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		ipStr, source, _ := strings.Cut(line, ",")
		addr, err := netip.ParseAddr(strings.TrimSpace(ipStr))
		if err != nil {
			log.Debug().Str("entry", ipStr).Int("line", lineNo).Msg("Invalid address in blacklist, skipping")
			continue
		}

		key := addr.String()
		bloom.Add(key)
		source = strings.TrimSpace(source)
		if source == "" {
			source = "local"
		}
		addrs[key] = source
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read blacklist: %w", err)
	}

	b.data.Store(&blacklistData{bloom: bloom, addrs: addrs})
	return len(addrs), nil
}

// Contains reports whether ip is listed. Entries are stored in canonical
// netip form and ip is compared as given.
func (b *Blacklist) Contains(ip string) bool {
	d := b.data.Load()
	if !d.bloom.Contains(ip) {
		return false
	}
	_, ok := d.addrs[ip]
	return ok
}

// Source returns the annotation the address was listed with.
func (b *Blacklist) Source(ip string) (string, bool) {
	src, ok := b.data.Load().addrs[ip]
	return src, ok
}

func (b *Blacklist) Len() int {
	return len(b.data.Load().addrs)
}

// BlacklistedAddrs returns the distinct remote addresses of records that are
// in set, sorted. A nil set matches nothing.
func BlacklistedAddrs(records []domain.LogRecord, set ports.AddressSet) []string {
	if set == nil || set.Len() == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var out []string
	for i := range records {
		ip := records[i].RemoteAddr
		if ip == "" {
			continue
		}
		if _, dup := seen[ip]; dup {
			continue
		}
		seen[ip] = struct{}{}
		if set.Contains(ip) {
			out = append(out, ip)
		}
	}
	sort.Strings(out)
	return out
}
