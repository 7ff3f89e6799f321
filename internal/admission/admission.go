// Package admission implements per-IP concurrent-connection limiting and the
// play whitelist, both backed by CIDR/range parsing.
package admission

import (
	"net"
	"strings"
	"sync"

	"github.com/netdata/go.d.plugin/pkg/iprange"

	"github.com/AgustinSRG/go-live-rtmp/internal/logging"
)

// Limiter tracks concurrent connections per source IP and enforces an
// optional cap, with an exemption list of IP ranges.
type Limiter struct {
	mu        sync.Mutex
	counts    map[string]uint32
	limit     uint32
	whitelist string
}

func NewLimiter(limit uint32, whitelist string) *Limiter {
	return &Limiter{
		counts:    make(map[string]uint32),
		limit:     limit,
		whitelist: whitelist,
	}
}

// Add registers a new connection from ip, returning false if it would exceed
// the per-IP concurrency cap.
func (l *Limiter) Add(ip string) bool {
	if l.isExempted(ip) {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.counts[ip]
	if c >= l.limit {
		return false
	}

	l.counts[ip] = c + 1
	return true
}

// Remove releases a connection slot for ip.
func (l *Limiter) Remove(ip string) {
	if l.isExempted(ip) {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.counts[ip]
	if c <= 1 {
		delete(l.counts, ip)
	} else {
		l.counts[ip] = c - 1
	}
}

func (l *Limiter) isExempted(ipStr string) bool {
	return matchesRangeList(l.whitelist, ipStr)
}

// Whitelist checks an IP string against a comma-separated range list, where
// "*" matches everything and an empty list allows everything.
type Whitelist struct {
	ranges string
}

func NewWhitelist(ranges string) *Whitelist {
	return &Whitelist{ranges: ranges}
}

func (w *Whitelist) Allows(ipStr string) bool {
	if w.ranges == "" {
		return true
	}
	return matchesRangeList(w.ranges, ipStr)
}

func matchesRangeList(list string, ipStr string) bool {
	if list == "" {
		return false
	}
	if list == "*" {
		return true
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}

	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		rang, err := iprange.ParseRange(part)
		if err != nil {
			logging.Error(err)
			continue
		}

		if rang.Contains(ip) {
			return true
		}
	}

	return false
}
