// Package orchestrator fans one workflow run out per wallet and reduces
// the results to an aggregate summary. It applies no retry policy of its
// own — retrying lives entirely inside the workflow.
package orchestrator

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/buldozerch/plume-runner/internal/config"
	"github.com/buldozerch/plume-runner/internal/logx"
	"github.com/buldozerch/plume-runner/internal/retry"
	"github.com/buldozerch/plume-runner/internal/store"
	"github.com/buldozerch/plume-runner/internal/workflow"
)

// Summary aggregates one batch run. Every selected wallet lands in exactly
// one bucket; a worker that panics is counted as a hard failure, never
// dropped.
type Summary struct {
	Total    int
	Success  int
	Soft     int
	Hard     int
	Outcomes []workflow.Outcome
}

func (s Summary) String() string {
	return fmt.Sprintf("%d wallets: %d succeeded, %d soft failures, %d hard failures",
		s.Total, s.Success, s.Soft, s.Hard)
}

type Orchestrator struct {
	deps     workflow.Deps
	settings config.Settings
}

func New(deps workflow.Deps) *Orchestrator {
	return &Orchestrator{deps: deps, settings: deps.Settings}
}

// SelectRange applies the configured wallet index window to the full list.
func SelectRange(wallets []store.Wallet, start, end int) []store.Wallet {
	if start < 0 {
		start = 0
	}
	if start >= len(wallets) {
		return nil
	}
	if end > 0 && end <= len(wallets) {
		return wallets[start:end]
	}
	return wallets[start:]
}

// Run starts one workflow per wallet, all concurrent, each jittered at
// startup so the fleet never hits external services in a synchronized
// burst. Wallets share no mutable workflow state; the proxy pool and the
// wallet store are the only cross-worker resources.
func (o *Orchestrator) Run(ctx context.Context, wallets []store.Wallet, mode workflow.Mode) Summary {
	selected := make([]store.Wallet, len(wallets))
	copy(selected, wallets)
	// Dispatch order is shuffled so runs never show a stable, correlated
	// wallet ordering.
	rand.Shuffle(len(selected), func(i, j int) {
		selected[i], selected[j] = selected[j], selected[i]
	})

	logx.Info("starting batch", "wallets", len(selected), "mode", string(mode))
	outcomes := make(chan workflow.Outcome, len(selected))
	var wg sync.WaitGroup
	for _, w := range selected {
		wg.Add(1)
		go func(w store.Wallet) {
			defer wg.Done()
			outcomes <- o.runOne(ctx, w, mode)
		}(w)
	}
	wg.Wait()
	close(outcomes)

	summary := Summary{Total: len(selected)}
	for outcome := range outcomes {
		summary.Outcomes = append(summary.Outcomes, outcome)
		switch outcome.Status {
		case workflow.StatusSuccess:
			summary.Success++
		case workflow.StatusSoftFailure:
			summary.Soft++
		default:
			summary.Hard++
		}
	}
	logx.Info("batch done",
		"success", summary.Success, "soft", summary.Soft, "hard", summary.Hard)
	return summary
}

// runOne wraps a single worker. Panics are converted into hard-failure
// outcomes so one broken wallet cannot take the batch down or vanish from
// the tally.
func (o *Orchestrator) runOne(ctx context.Context, w store.Wallet, mode workflow.Mode) (outcome workflow.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logx.Error("worker panicked", "wallet", w.PublicKey, "panic", r)
			outcome = workflow.Outcome{
				WalletID: w.ID,
				Address:  w.PublicKey,
				Status:   workflow.StatusHardFailure,
				Reason:   fmt.Sprintf("worker panic: %v", r),
			}
		}
	}()

	delay := retry.Jitter(o.settings.StartupDelayMin, o.settings.StartupDelayMax)
	logx.Info("worker scheduled", "wallet", w.PublicKey, "startup_delay", delay)
	if err := retry.Sleep(ctx, delay); err != nil {
		return workflow.Outcome{
			WalletID: w.ID,
			Address:  w.PublicKey,
			Status:   workflow.StatusSoftFailure,
			Reason:   "cancelled before start",
		}
	}

	return workflow.New(o.deps, w).Run(ctx, mode)
}
