// Package proxy manages the reserve proxy pool and per-wallet proxy health.
package proxy

import (
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"

	"github.com/buldozerch/plume-runner/internal/logx"
)

// Pool holds the reserve proxy credentials not yet assigned to any wallet.
// Acquisition removes the record atomically: two concurrent callers can
// never receive the same credential. Bad proxies are discarded, never
// returned to the pool; that fail-forward policy is deliberate.
type Pool struct {
	mu      sync.Mutex
	path    string
	reserve []string
}

// OpenPool loads the reserve file (one credential per line). A missing or
// empty file yields an empty pool, not an error.
func OpenPool(path string) (*Pool, error) {
	p := &Pool{path: path}
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, fmt.Errorf("read reserve proxy file: %w", err)
	}
	for _, line := range strings.Split(string(buf), "\n") {
		if v := strings.TrimSpace(line); v != "" {
			p.reserve = append(p.reserve, v)
		}
	}
	return p, nil
}

// Acquire removes and returns one credential chosen uniformly at random.
// An empty pool returns ok=false; callers treat that as "no replacement
// possible", not a failure.
func (p *Pool) Acquire() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.reserve) == 0 {
		return "", false
	}
	i := rand.Intn(len(p.reserve))
	picked := p.reserve[i]
	p.reserve = append(p.reserve[:i], p.reserve[i+1:]...)

	// Persist the shrunk reserve so a restart does not re-issue the
	// credential. The acquisition stands even if the write fails.
	if err := p.persistLocked(); err != nil {
		logx.Warn("failed to update reserve proxy file after acquire", "err", err)
	} else {
		logx.Info("reserve proxy acquired", "remaining", len(p.reserve))
	}
	return picked, true
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reserve)
}

func (p *Pool) persistLocked() error {
	if p.path == "" {
		return nil
	}
	var b strings.Builder
	for _, line := range p.reserve {
		b.WriteString(line)
		b.WriteString("\n")
	}
	return os.WriteFile(p.path, []byte(b.String()), 0o644)
}
