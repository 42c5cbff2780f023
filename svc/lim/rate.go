package lim

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"linkvault/svc/db"
	"linkvault/svc/util"
)

const (
	maxLimiters = 10000
	limiterTTL  = 30 * time.Minute

	// Cap on X-Forwarded-For entries inspected per request so an attacker
	// cannot make us parse an arbitrarily long header.
	maxForwardedHops = 100
)

// Limiter enforces a global per-endpoint budget through Redis when available
// and falls back to per-IP token buckets held in a TTL-bounded LRU. The LRU
// caps memory under address-churn floods; evicting an entry just resets that
// IP's bucket.
type Limiter struct {
	rdb               *db.Redis
	proxies           []netip.Prefix
	detector          *AnomalyDetector
	adaptiveModeUntil int64
	buckets           *expirable.LRU[string, *rate.Limiter]
	conservativeLimit int
	globalRPM         int
}

type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

func New(globalRPM, conservativeLimit int, rdb *db.Redis, trustedProxies []string) *Limiter {
	proxies, err := parseProxies(trustedProxies)
	if err != nil {
		panic(fmt.Sprintf("trusted proxies: %v", err))
	}
	l := &Limiter{
		rdb:               rdb,
		proxies:           proxies,
		buckets:           expirable.NewLRU[string, *rate.Limiter](maxLimiters, nil, limiterTTL),
		conservativeLimit: conservativeLimit,
		globalRPM:         globalRPM,
	}
	l.detector = NewAnomalyDetector(l.TriggerAdaptiveMode)
	l.detector.Start()
	return l
}

// parseProxies turns IPs and CIDR blocks into prefixes once, at startup.
func parseProxies(entries []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, e := range entries {
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR %q: %w", e, err)
			}
			out = append(out, p)
			continue
		}
		a, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("invalid IP %q: %w", e, err)
		}
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

func (l *Limiter) Stop() {
	l.detector.Stop()
}

// TriggerAdaptiveMode halves limits for the next minute. Wired to the
// anomaly detector's error-rate trip.
func (l *Limiter) TriggerAdaptiveMode() {
	atomic.StoreInt64(&l.adaptiveModeUntil, time.Now().Add(60*time.Second).Unix())
}

func (l *Limiter) isAdaptiveMode() bool {
	return time.Now().Unix() < atomic.LoadInt64(&l.adaptiveModeUntil)
}

// effectiveLimit applies the adaptive-mode haircut, never dropping below 1.
func (l *Limiter) effectiveLimit(base int) int {
	if !l.isAdaptiveMode() {
		return base
	}
	if half := base / 2; half >= 1 {
		return half
	}
	return 1
}

func (l *Limiter) RecordRequest() { l.detector.RecordRequest() }
func (l *Limiter) RecordError()   { l.detector.RecordError() }

func (l *Limiter) CheckLimit(r *http.Request, endpoint string) *RateLimitResult {
	ip := realIP(r, l.proxies)
	if l.rdb == nil {
		return l.checkLocal(ip, endpoint)
	}
	limit := l.effectiveLimit(l.globalRPM)
	ctx, cancel := context.WithTimeout(r.Context(), 100*time.Millisecond)
	defer cancel()
	usage, err := l.rdb.RateLimit(ctx, "global:"+endpoint, limit, time.Minute)
	if err != nil {
		util.Warn().Err(err).Msg("redis rate limit unavailable, using local fallback")
		return l.checkLocal(ip, endpoint)
	}
	return &RateLimitResult{
		Allowed:   usage <= limit,
		Limit:     limit,
		Remaining: max(limit-usage, 0),
		Reset:     time.Now().Add(time.Minute),
	}
}

func (l *Limiter) checkLocal(ip, endpoint string) *RateLimitResult {
	limit := l.effectiveLimit(l.conservativeLimit)
	key := ip + ":" + endpoint
	bucket, ok := l.buckets.Get(key)
	if !ok {
		bucket = rate.NewLimiter(rate.Limit(limit)/60.0, limit)
		l.buckets.Add(key, bucket)
	}
	res := &RateLimitResult{
		Limit: limit,
		Reset: time.Now().Add(time.Minute),
	}
	if bucket.Allow() {
		res.Allowed = true
		res.Remaining = limit - 1
	}
	return res
}

// GetRealIP resolves the client address for a request given the configured
// trusted proxies. Invalid proxy entries are dropped here; New has already
// rejected them for the limiter itself.
func GetRealIP(r *http.Request, trustedProxies []string) string {
	var proxies []netip.Prefix
	for _, e := range trustedProxies {
		if p, err := parseProxies([]string{e}); err == nil {
			proxies = append(proxies, p...)
		}
	}
	return realIP(r, proxies)
}

// realIP walks X-Forwarded-For right to left past trusted proxies and
// returns the first address we did not append ourselves. Untrusted peers
// never get to pick their own identity.
func realIP(r *http.Request, proxies []netip.Prefix) string {
	remote := stripPort(r.RemoteAddr)
	if len(proxies) == 0 || !isTrusted(remote, proxies) {
		return remote
	}
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return remote
	}
	hops := strings.Split(xff, ",")
	seen := 0
	for i := len(hops) - 1; i >= 0 && seen < maxForwardedHops; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		seen++
		if _, err := netip.ParseAddr(hop); err != nil {
			util.Warn().Str("ip", hop).Msg("invalid IP in X-Forwarded-For, skipping")
			continue
		}
		if !isTrusted(hop, proxies) {
			return hop
		}
	}
	// Every hop was one of ours (or unparseable); charge the direct peer.
	return remote
}

func isTrusted(ip string, proxies []netip.Prefix) bool {
	a, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, p := range proxies {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

func stripPort(addr string) string {
	if ap, err := netip.ParseAddrPort(addr); err == nil {
		return ap.Addr().String()
	}
	return addr
}
