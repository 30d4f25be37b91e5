package server

import (
	"container/list"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxLimiters caps the number of tracked keys. The least recently used
// key is evicted first, so a flood of new keys cannot reset active buckets.
const maxLimiters = 10000

type limiterEntry struct {
	key     string
	limiter *rate.Limiter
}

// keyedLimiter is a token bucket per key with LRU eviction.
type keyedLimiter struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	lru        *list.List // front is most recently used
	limit      rate.Limit
	burst      int
	maxEntries int
}

// newKeyedLimiter returns nil when rps is not positive, disabling limiting.
func newKeyedLimiter(rps float64, burst, maxEntries int) *keyedLimiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &keyedLimiter{
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
		limit:      rate.Limit(rps),
		burst:      burst,
		maxEntries: maxEntries,
	}
}

// allow reports whether key may proceed now. When it may not, the
// returned duration is how long until a token is available.
func (l *keyedLimiter) allow(key string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}

	lim := l.get(key)
	res := lim.Reserve()
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return false, delay
	}
	return true, 0
}

func (l *keyedLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if elem, ok := l.entries[key]; ok {
		l.lru.MoveToFront(elem)
		return elem.Value.(*limiterEntry).limiter
	}

	if l.maxEntries > 0 && len(l.entries) >= l.maxEntries {
		if oldest := l.lru.Back(); oldest != nil {
			delete(l.entries, oldest.Value.(*limiterEntry).key)
			l.lru.Remove(oldest)
		}
	}

	entry := &limiterEntry{key: key, limiter: rate.NewLimiter(l.limit, l.burst)}
	l.entries[key] = l.lru.PushFront(entry)
	return entry.limiter
}

func (l *keyedLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// retryAfterSeconds rounds a delay up to whole seconds for the Retry-After header.
func retryAfterSeconds(d time.Duration) int {
	return int(math.Max(1, math.Ceil(d.Seconds())))
}

// clientIP returns the address a request came from. Forwarding headers are
// only honoured behind a trusted proxy, and then only the entry appended by
// that proxy (the rightmost) is used.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if ip := strings.TrimSpace(parts[len(parts)-1]); net.ParseIP(ip) != nil {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
