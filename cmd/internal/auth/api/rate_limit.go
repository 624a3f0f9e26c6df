package api

import (
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// maxTrackedFailures caps the timestamps kept per key.
const maxTrackedFailures = 64

type lockoutTier struct {
	Threshold int
	Duration  time.Duration
}

// loginThrottle tracks recent login failures per client IP and per email in bounded
// LRU caches. State is process-local; a restart forgets it.
type loginThrottle struct {
	mu      sync.Mutex
	byIP    *lru.Cache[string, []time.Time]
	byEmail *lru.Cache[string, []time.Time]

	ipMax      int
	ipWindow   time.Duration
	userWindow time.Duration
	tiers      []lockoutTier
}

func newLoginThrottle(cfg Config) (*loginThrottle, error) {
	byIP, err := lru.New[string, []time.Time](cfg.ThrottleCacheSize)
	if err != nil {
		return nil, err
	}
	byEmail, err := lru.New[string, []time.Time](cfg.ThrottleCacheSize)
	if err != nil {
		return nil, err
	}
	return &loginThrottle{
		byIP:       byIP,
		byEmail:    byEmail,
		ipMax:      cfg.LoginIPMax,
		ipWindow:   cfg.LoginIPWindow,
		userWindow: cfg.LoginUserWindow,
		tiers:      cfg.lockoutTiers(),
	}, nil
}

// check reports whether a login attempt must be refused before any store lookup.
func (t *loginThrottle) check(ip, email string, now time.Time) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ip != "" && t.ipMax > 0 {
		if failures, ok := t.byIP.Get(ip); ok {
			if blocked, retry := evaluateWindowThrottle(now, failures, t.ipMax, t.ipWindow); blocked {
				return true, retry
			}
		}
	}
	if email != "" {
		if failures, ok := t.byEmail.Get(email); ok {
			recent := within(now, failures, t.userWindow)
			if blocked, retry := evaluateProgressiveLockout(now, recent, t.tiers); blocked {
				return true, retry
			}
		}
	}
	return false, 0
}

func (t *loginThrottle) recordFailure(ip, email string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ip != "" {
		t.byIP.Add(ip, appendFailure(t.byIP, ip, now))
	}
	if email != "" {
		t.byEmail.Add(email, appendFailure(t.byEmail, email, now))
	}
}

// reset clears the lockout state for email after a successful login.
func (t *loginThrottle) reset(email string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byEmail.Remove(email)
}

func appendFailure(c *lru.Cache[string, []time.Time], key string, now time.Time) []time.Time {
	prev, _ := c.Get(key)
	next := make([]time.Time, 0, len(prev)+1)
	next = append(next, now)
	next = append(next, prev...)
	if len(next) > maxTrackedFailures {
		next = next[:maxTrackedFailures]
	}
	return next
}

func within(now time.Time, failures []time.Time, window time.Duration) []time.Time {
	cut := now.Add(-window)
	out := make([]time.Time, 0, len(failures))
	for _, f := range failures {
		if f.After(cut) {
			out = append(out, f)
		}
	}
	return out
}

func newestFirst(failures []time.Time) []time.Time {
	out := append([]time.Time(nil), failures...)
	sort.Slice(out, func(i, j int) bool { return out[i].After(out[j]) })
	return out
}

// evaluateWindowThrottle blocks once maxFailures failures fall inside window. Retry is the
// time until enough of them age out for the count to drop below maxFailures.
func evaluateWindowThrottle(now time.Time, failures []time.Time, maxFailures int, window time.Duration) (bool, time.Duration) {
	if maxFailures <= 0 || window <= 0 {
		return false, 0
	}
	recent := newestFirst(within(now, failures, window))
	if len(recent) < maxFailures {
		return false, 0
	}
	return true, recent[maxFailures-1].Add(window).Sub(now)
}

// evaluateProgressiveLockout applies the first tier (by descending threshold) whose
// threshold is met, locking out for Duration after the most recent failure.
func evaluateProgressiveLockout(now time.Time, failures []time.Time, tiers []lockoutTier) (bool, time.Duration) {
	if len(failures) == 0 {
		return false, 0
	}
	ordered := append([]lockoutTier(nil), tiers...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Threshold > ordered[j].Threshold })

	latest := newestFirst(failures)[0]
	for _, tier := range ordered {
		if tier.Threshold <= 0 || tier.Duration <= 0 || len(failures) < tier.Threshold {
			continue
		}
		until := latest.Add(tier.Duration)
		if until.After(now) {
			return true, until.Sub(now)
		}
		return false, 0
	}
	return false, 0
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeMessage(w, http.StatusTooManyRequests, "too many attempts")
}
