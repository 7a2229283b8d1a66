// Package security guards outbound navigation against SSRF and
// DNS-rebinding: scheme allow-list, private/loopback network block-list,
// and fresh DNS resolution re-validated on every check.
package security

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/siteflow/types"
)

// blockedMessage is the only text a caller ever sees for a rejected URL.
// The concrete reason is logged, never returned.
const blockedMessage = "navigation to this address is not allowed"

// Resolver is the DNS lookup surface, injectable for tests.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// URLGuardConfig configures the guard.
type URLGuardConfig struct {
	// AllowedSchemes defaults to http and https.
	AllowedSchemes []string `json:"allowed_schemes" yaml:"allowed_schemes"`
	// CacheTTL bounds how long one resolution is reused. Validation against
	// the block-list still runs on every check, so a cached entry can never
	// skip the verdict, only the lookup.
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
	// CacheSize bounds the resolution cache entry count.
	CacheSize int `json:"cache_size" yaml:"cache_size"`
}

// DefaultURLGuardConfig returns sensible defaults.
func DefaultURLGuardConfig() URLGuardConfig {
	return URLGuardConfig{
		AllowedSchemes: []string{"http", "https"},
		CacheTTL:       30 * time.Second,
		CacheSize:      1024,
	}
}

type cacheEntry struct {
	ips     []netip.Addr
	expires time.Time
}

// URLGuard validates navigation targets before any page load is issued.
type URLGuard struct {
	schemes  map[string]bool
	resolver Resolver
	cacheTTL time.Duration
	cacheCap int
	now      func() time.Time
	logger   *zap.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewURLGuard creates a guard with the system resolver.
func NewURLGuard(config URLGuardConfig, logger *zap.Logger) *URLGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(config.AllowedSchemes) == 0 {
		config.AllowedSchemes = []string{"http", "https"}
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 30 * time.Second
	}
	if config.CacheSize <= 0 {
		config.CacheSize = 1024
	}
	schemes := make(map[string]bool, len(config.AllowedSchemes))
	for _, s := range config.AllowedSchemes {
		schemes[strings.ToLower(s)] = true
	}
	return &URLGuard{
		schemes:  schemes,
		resolver: net.DefaultResolver,
		cacheTTL: config.CacheTTL,
		cacheCap: config.CacheSize,
		now:      time.Now,
		logger:   logger.With(zap.String("component", "url_guard")),
		cache:    make(map[string]cacheEntry),
	}
}

// WithResolver swaps the DNS resolver, for tests.
func (g *URLGuard) WithResolver(r Resolver) *URLGuard {
	g.resolver = r
	return g
}

// Check validates a navigation target. A nil return means the URL may be
// handed to the page-control driver. Any violation returns a
// NAVIGATION_BLOCKED error whose message is safe to surface to users.
func (g *URLGuard) Check(ctx context.Context, rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return g.blocked(rawURL, "unparseable url")
	}
	if !g.schemes[strings.ToLower(u.Scheme)] {
		return g.blocked(rawURL, "scheme not allowed: "+u.Scheme)
	}
	if u.User != nil {
		return g.blocked(rawURL, "userinfo in url")
	}
	host := u.Hostname()
	if host == "" {
		return g.blocked(rawURL, "empty host")
	}
	for _, r := range host {
		if r > 127 {
			return g.blocked(rawURL, "non-ascii host")
		}
	}

	// Literal IPs skip DNS entirely.
	if addr, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		if reason := blockedAddrReason(addr); reason != "" {
			return g.blocked(rawURL, reason)
		}
		return nil
	}

	addrs, err := g.resolve(ctx, strings.ToLower(host))
	if err != nil {
		return g.blocked(rawURL, "dns resolution failed: "+err.Error())
	}
	if len(addrs) == 0 {
		return g.blocked(rawURL, "host resolves to no addresses")
	}
	// Every resolved address must pass; a single internal A record is enough
	// to reject, which is what defeats rebinding to mixed answers.
	for _, addr := range addrs {
		if reason := blockedAddrReason(addr); reason != "" {
			return g.blocked(rawURL, fmt.Sprintf("%s (%s)", reason, addr))
		}
	}
	return nil
}

func (g *URLGuard) blocked(rawURL, reason string) error {
	g.logger.Warn("navigation blocked",
		zap.String("url", rawURL),
		zap.String("reason", reason))
	return types.NewError(types.ErrNavigationBlocked, blockedMessage)
}

// resolve performs a DNS lookup, reusing a recent answer within the TTL.
// The cache holds resolutions, not verdicts; Check re-validates every time.
func (g *URLGuard) resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	now := g.now()

	g.mu.Lock()
	if entry, ok := g.cache[host]; ok && now.Before(entry.expires) {
		ips := entry.ips
		g.mu.Unlock()
		return ips, nil
	}
	g.mu.Unlock()

	ipAddrs, err := g.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	addrs := make([]netip.Addr, 0, len(ipAddrs))
	for _, ia := range ipAddrs {
		if addr, ok := netip.AddrFromSlice(ia.IP); ok {
			addrs = append(addrs, addr.Unmap())
		}
	}

	g.mu.Lock()
	if len(g.cache) >= g.cacheCap {
		// Full cache: drop everything rather than track LRU order. At the
		// configured size this happens rarely and a refill is cheap.
		g.cache = make(map[string]cacheEntry)
	}
	g.cache[host] = cacheEntry{ips: addrs, expires: now.Add(g.cacheTTL)}
	g.mu.Unlock()

	return addrs, nil
}

var blockedV4Prefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),  // CGNAT
	netip.MustParsePrefix("192.0.0.0/24"),   // IETF protocol assignments
	netip.MustParsePrefix("198.18.0.0/15"),  // benchmarking
	netip.MustParsePrefix("240.0.0.0/4"),    // reserved
}

// blockedAddrReason returns a non-empty reason when addr points at an
// internal or otherwise unroutable network.
func blockedAddrReason(addr netip.Addr) string {
	addr = addr.Unmap()
	switch {
	case addr.IsLoopback():
		return "loopback address"
	case addr.IsPrivate():
		return "private network address"
	case addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		return "link-local address" // includes 169.254.169.254 metadata
	case addr.IsMulticast():
		return "multicast address"
	case addr.IsUnspecified():
		return "unspecified address"
	}
	if addr.Is4() {
		for _, p := range blockedV4Prefixes {
			if p.Contains(addr) {
				return "reserved network address"
			}
		}
		if addr == netip.MustParseAddr("255.255.255.255") {
			return "broadcast address"
		}
	}
	if addr.Is6() {
		if ula := netip.MustParsePrefix("fc00::/7"); ula.Contains(addr) {
			return "unique-local address"
		}
	}
	return ""
}
