package mtasts

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/foxcpp/mxtrust/framework/config"
	"github.com/foxcpp/mxtrust/framework/dns"
	"github.com/foxcpp/mxtrust/framework/exterrors"
	"github.com/foxcpp/mxtrust/framework/future"
	"github.com/foxcpp/mxtrust/framework/log"
	"github.com/foxcpp/mxtrust/internal/cache"
	"github.com/foxcpp/mxtrust/internal/limits/limiters"
)

const (
	// MinCacheTTL and MaxCacheTTL are the bounds for a max_age value to be
	// used as is.
	MinCacheTTL = time.Hour
	MaxCacheTTL = 31557600 * time.Second
	// DefaultCacheTTL is used for max_age values outside of the bounds.
	DefaultCacheTTL = 24 * time.Hour

	DefaultRateLimit    = 10
	DefaultRateInterval = 5 * time.Minute
	DefaultCacheSize    = 10000
)

// CacheTTL returns the time the policy with the specified max_age is kept in
// the cache.
func CacheTTL(maxAge uint64) time.Duration {
	if maxAge < uint64(MinCacheTTL/time.Second) || maxAge > uint64(MaxCacheTTL/time.Second) {
		return DefaultCacheTTL
	}
	return time.Duration(maxAge) * time.Second
}

// Manager discovers, fetches and caches MTA-STS policies.
//
// Manager is safe for concurrent use. Concurrent lookups for the same domain
// that both miss the cache will both fetch the policy.
type Manager struct {
	Resolver      dns.Resolver
	Fetcher       Fetcher
	Log           log.Logger
	MaxPolicySize int64

	cache   *cache.Cache[*Policy]
	limiter *limiters.WindowSet

	now func() time.Time
}

func NewManager(resolver dns.Resolver, fetcher Fetcher) *Manager {
	m := &Manager{
		Resolver:      resolver,
		Fetcher:       fetcher,
		Log:           log.Logger{Name: "mtasts"},
		MaxPolicySize: DefaultMaxPolicySize,
		cache:         cache.New[*Policy](DefaultCacheSize),
		limiter:       limiters.NewWindowSet(DefaultRateLimit, DefaultRateInterval, DefaultCacheSize),
		now:           time.Now,
	}
	return m
}

// Init configures the Manager using the mta_sts configuration block.
func (m *Manager) Init(cfg *config.Map) error {
	var (
		rateLimit rateLimitCfg
		cacheSize int
		userAgent string
	)
	cfg.Bool("debug", true, false, &m.Log.Debug)
	cfg.DataSize("max_policy_size", false, false, DefaultMaxPolicySize, &m.MaxPolicySize)
	cfg.Custom("rate_limit", false, false, func() (interface{}, error) {
		return rateLimitCfg{DefaultRateLimit, DefaultRateInterval}, nil
	}, rateLimitDirective, &rateLimit)
	cfg.Int("cache_size", false, false, DefaultCacheSize, &cacheSize)
	cfg.String("user_agent", false, false, "", &userAgent)
	if _, err := cfg.Process(); err != nil {
		return err
	}

	m.cache = cache.New[*Policy](cacheSize)
	m.cache.Now = m.now
	m.limiter = limiters.NewWindowSet(rateLimit.limit, rateLimit.interval, cacheSize)
	m.limiter.Now = m.now
	if hf, ok := m.Fetcher.(*HTTPFetcher); ok && userAgent != "" {
		hf.UserAgent = userAgent
	}
	return nil
}

type rateLimitCfg struct {
	limit    int
	interval time.Duration
}

// rateLimitDirective parses 'rate_limit N interval'. N = 0 disables the
// limit.
func rateLimitDirective(_ *config.Map, node config.Node) (interface{}, error) {
	if len(node.Args) != 2 {
		return nil, config.NodeErr(node, "expected two arguments: limit and interval")
	}
	limit, err := strconv.Atoi(node.Args[0])
	if err != nil || limit < 0 {
		return nil, config.NodeErr(node, "invalid limit: %s", node.Args[0])
	}
	interval, err := time.ParseDuration(node.Args[1])
	if err != nil || interval <= 0 {
		return nil, config.NodeErr(node, "invalid interval: %s", node.Args[1])
	}
	return rateLimitCfg{limit, interval}, nil
}

// CachedPolicy returns the cached policy for the domain, if any, without
// performing any I/O.
func (m *Manager) CachedPolicy(domain string) (*Policy, bool) {
	key, err := dns.ForLookup(domain)
	if err != nil {
		return nil, false
	}
	return m.cache.Get(key)
}

// Prefetch starts the policy lookup in a separate goroutine.
func (m *Manager) Prefetch(ctx context.Context, domain string, timeout time.Duration) *future.Future[*Policy] {
	return future.Go(func() (*Policy, error) {
		return m.LookupPolicy(ctx, domain, timeout)
	})
}

// LookupPolicy returns the MTA-STS policy for the domain.
//
// Domains without a policy produce a *DNSError wrapping ErrNoPolicy. Other
// errors are one of *DNSError, *HTTPError, *InvalidPolicyError,
// *PolicyTooLargeError, *TimeoutError or *RateLimitedError.
func (m *Manager) LookupPolicy(ctx context.Context, domain string, timeout time.Duration) (*Policy, error) {
	if domain == "" {
		return nil, &InvalidPolicyError{Reason: "empty domain"}
	}
	if timeout <= 0 {
		return nil, &TimeoutError{Operation: "lookup"}
	}
	key, err := dns.ForLookup(domain)
	if err != nil {
		return nil, &InvalidPolicyError{Reason: "malformed domain: " + err.Error()}
	}
	aDomain, err := dns.ToASCII(key)
	if err != nil {
		return nil, &InvalidPolicyError{Reason: "malformed domain: " + err.Error()}
	}

	if ok, retryAfter := m.limiter.Take(key); !ok {
		rateLimitedCnt.Inc()
		m.Log.DebugMsg("lookup rate limited", "domain", key, "retry_after", retryAfter)
		return nil, &RateLimitedError{Domain: key, RetryAfter: retryAfter}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := m.now()

	id, err := m.policyID(ctx, aDomain)
	if err != nil {
		if cached, ok := m.cache.Get(key); ok {
			m.Log.Error("DNS lookup failed, using cached policy", err, "domain", key, "policy_id", cached.ID)
			lookupsCnt.WithLabelValues("stale").Inc()
			return cached, nil
		}
		lookupsCnt.WithLabelValues("error").Inc()
		if exterrors.IsTimeout(err) {
			return nil, &TimeoutError{Operation: "dns_lookup", Timeout: timeout, Elapsed: m.now().Sub(start)}
		}
		return nil, err
	}

	if cached, ok := m.cache.Get(key); ok && cached.ID == id {
		lookupsCnt.WithLabelValues("cached").Inc()
		return cached, nil
	}

	policy, err := m.fetch(ctx, aDomain, id, timeout, start)
	if err != nil {
		lookupsCnt.WithLabelValues("error").Inc()
		return nil, err
	}

	m.cache.Set(key, policy, CacheTTL(policy.MaxAge))
	lookupsCnt.WithLabelValues("fetched").Inc()
	m.Log.DebugMsg("policy fetched", "domain", key, "policy_id", id, "mode", policy.Mode, "max_age", policy.MaxAge)
	return policy, nil
}

func (m *Manager) policyID(ctx context.Context, domain string) (string, error) {
	records, err := m.Resolver.LookupTXT(ctx, "_mta-sts."+domain)
	if err != nil {
		if dns.IsNotFound(err) {
			return "", &DNSError{Domain: domain, RecordType: "TXT", Err: ErrNoPolicy}
		}
		if exterrors.IsTimeout(err) {
			return "", err
		}
		return "", &DNSError{Domain: domain, RecordType: "TXT", Err: err}
	}

	// RFC 8461 Section 3.1: records not starting with v=STSv1 are ignored,
	// more than one matching record is an error.
	var stsRecords []string
	for _, rec := range records {
		if strings.HasPrefix(rec, "v=STSv1") {
			stsRecords = append(stsRecords, rec)
		}
	}
	switch len(stsRecords) {
	case 0:
		return "", &DNSError{Domain: domain, RecordType: "TXT", Err: ErrNoPolicy}
	case 1:
	default:
		return "", &DNSError{Domain: domain, RecordType: "TXT", Err: errors.New("multiple v=STSv1 records")}
	}

	id, err := ParseDNSRecord(stsRecords[0])
	if err != nil {
		return "", &DNSError{Domain: domain, RecordType: "TXT", Err: err}
	}
	return id, nil
}

func (m *Manager) fetch(ctx context.Context, domain, id string, timeout time.Duration, start time.Time) (*Policy, error) {
	fetchStart := time.Now()
	contents, err := m.Fetcher.Fetch(ctx, PolicyURL(domain), m.MaxPolicySize)
	fetchDuration.Observe(time.Since(fetchStart).Seconds())
	if err != nil {
		var timeoutErr *TimeoutError
		if errors.As(err, &timeoutErr) {
			timeoutErr.Timeout = timeout
			timeoutErr.Elapsed = m.now().Sub(start)
		} else if exterrors.IsTimeout(err) {
			err = &TimeoutError{Operation: "http_request", Timeout: timeout, Elapsed: m.now().Sub(start)}
		}
		return nil, err
	}

	return ParsePolicy(contents, id)
}
