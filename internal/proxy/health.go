package proxy

import (
	"sync"

	clierr "github.com/buldozerch/plume-runner/internal/errors"
	"github.com/buldozerch/plume-runner/internal/logx"
	"github.com/buldozerch/plume-runner/internal/store"
)

// WalletStore is the slice of the wallet store the health manager needs.
type WalletStore interface {
	Get(id int64) (store.Wallet, error)
	UpdateProxy(id int64, newProxy string) (bool, error)
	MarkProxyBad(id int64) (bool, error)
	ListBadProxy() ([]store.Wallet, error)
}

// NoReserveMessage is the stable message surfaced when the pool is empty.
const NoReserveMessage = "no available reserve proxies"

// Manager tracks consecutive network-error counts per wallet and drives the
// mark-bad / replace policy. Counters are scoped to one operation loop: the
// caller resets them at the start of each balance or nonce loop, and any
// success resets them to zero.
type Manager struct {
	pool        *Pool
	wallets     WalletStore
	threshold   int
	autoReplace bool

	mu       sync.Mutex
	failures map[int64]int
	bad      map[int64]bool
}

// FailureResult reports what RecordFailure did beyond counting.
type FailureResult struct {
	Count     int
	MarkedBad bool
	Replaced  bool
	// ReplaceMessage carries the replacement outcome when one was attempted.
	ReplaceMessage string
}

func NewManager(pool *Pool, wallets WalletStore, threshold int, autoReplace bool) *Manager {
	if threshold <= 0 {
		threshold = 3
	}
	return &Manager{
		pool:        pool,
		wallets:     wallets,
		threshold:   threshold,
		autoReplace: autoReplace,
		failures:    make(map[int64]int),
		bad:         make(map[int64]bool),
	}
}

// RecordFailure increments the wallet's consecutive-failure counter. The
// first time the counter reaches the threshold the proxy is marked BAD in
// the store, and a replacement is attempted when auto-replace is on. BAD is
// sticky until a replacement succeeds; while it sticks, every further
// failure re-attempts the replacement. Callers pace those re-attempts with
// the replace cooldown.
func (m *Manager) RecordFailure(walletID int64) FailureResult {
	m.mu.Lock()
	m.failures[walletID]++
	count := m.failures[walletID]
	alreadyBad := m.bad[walletID]
	degraded := alreadyBad || count >= m.threshold
	if degraded {
		m.bad[walletID] = true
	}
	m.mu.Unlock()

	result := FailureResult{Count: count}
	if !degraded {
		return result
	}
	result.MarkedBad = true

	if !alreadyBad {
		if _, err := m.wallets.MarkProxyBad(walletID); err != nil {
			logx.Error("failed to persist BAD proxy status", "wallet", walletID, "err", err)
		}
	}
	if !m.autoReplace {
		return result
	}
	ok, msg := m.Replace(walletID)
	result.Replaced = ok
	result.ReplaceMessage = msg
	return result
}

// RecordSuccess resets the wallet's counter after any successful operation.
func (m *Manager) RecordSuccess(walletID int64) {
	m.mu.Lock()
	delete(m.failures, walletID)
	m.mu.Unlock()
}

// ResetFailures starts a fresh counter for a new operation loop.
func (m *Manager) ResetFailures(walletID int64) {
	m.mu.Lock()
	delete(m.failures, walletID)
	m.mu.Unlock()
}

func (m *Manager) Failures(walletID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[walletID]
}

func (m *Manager) IsBad(walletID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bad[walletID]
}

// MarkBad flips the wallet's proxy to BAD without going through the
// counter, for failures known to invalidate the proxy outright.
func (m *Manager) MarkBad(walletID int64) error {
	m.mu.Lock()
	m.bad[walletID] = true
	m.mu.Unlock()
	if _, err := m.wallets.MarkProxyBad(walletID); err != nil {
		return clierr.Wrap(clierr.CodeInternal, "persist BAD proxy status", err)
	}
	return nil
}

// Replace acquires a reserve proxy and persists it as the wallet's new
// assignment. When persistence fails the acquired credential is treated as
// lost rather than returned to the pool — it may already be half-used, and
// re-issuing it risks a double assignment. Callers must sleep the replace
// cooldown before retrying, or the pool drains under a persistent store
// fault.
func (m *Manager) Replace(walletID int64) (bool, string) {
	newProxy, ok := m.pool.Acquire()
	if !ok {
		return false, NoReserveMessage
	}
	updated, err := m.wallets.UpdateProxy(walletID, newProxy)
	if err != nil {
		logx.Error("proxy replacement failed to persist", "wallet", walletID, "err", err)
		return false, "failed to persist proxy assignment"
	}
	if !updated {
		return false, "wallet not found"
	}

	m.mu.Lock()
	delete(m.failures, walletID)
	delete(m.bad, walletID)
	m.mu.Unlock()

	logx.Info("proxy replaced", "wallet", walletID)
	return true, "proxy replaced"
}

// ReplaceAllBad sweeps every wallet whose proxy is marked BAD and tries to
// assign a reserve proxy to each. Returns how many were replaced out of how
// many were bad.
func (m *Manager) ReplaceAllBad() (replaced, total int, err error) {
	wallets, err := m.wallets.ListBadProxy()
	if err != nil {
		return 0, 0, clierr.Wrap(clierr.CodeInternal, "list wallets with bad proxies", err)
	}
	for _, w := range wallets {
		if ok, _ := m.Replace(w.ID); ok {
			replaced++
		}
	}
	return replaced, len(wallets), nil
}
