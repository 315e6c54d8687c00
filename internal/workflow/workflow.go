// Package workflow drives the bridge-then-swap sequence for one wallet as
// a forward-only state machine. It is the only layer that decides retry vs
// escalate; everything below returns typed errors, everything above sees a
// tri-state Outcome.
package workflow

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/buldozerch/plume-runner/internal/bridge"
	"github.com/buldozerch/plume-runner/internal/chain"
	"github.com/buldozerch/plume-runner/internal/config"
	clierr "github.com/buldozerch/plume-runner/internal/errors"
	"github.com/buldozerch/plume-runner/internal/logx"
	"github.com/buldozerch/plume-runner/internal/proxy"
	"github.com/buldozerch/plume-runner/internal/retry"
	"github.com/buldozerch/plume-runner/internal/store"
	"github.com/buldozerch/plume-runner/internal/swap"
	"github.com/buldozerch/plume-runner/internal/txmgr"
)

// WalletReader re-fetches the authoritative wallet record. The workflow
// holds only a working copy; after any proxy replacement the copy is stale
// and must be refreshed before the step resumes.
type WalletReader interface {
	Get(id int64) (store.Wallet, error)
}

// Health is the slice of the proxy health manager a run consumes.
type Health interface {
	RecordFailure(walletID int64) proxy.FailureResult
	RecordSuccess(walletID int64)
	ResetFailures(walletID int64)
}

// Quoter fetches bridge deposit calls.
type Quoter interface {
	Quote(ctx context.Context, req bridge.QuoteRequest) (bridge.Call, error)
}

// TxLifecycle is the submit/await surface of txmgr.Lifecycle.
type TxLifecycle interface {
	Address() common.Address
	Submit(ctx context.Context, req txmgr.Request) (txmgr.Attempt, error)
	AwaitReceipt(ctx context.Context, attempt txmgr.Attempt, timeout time.Duration) (*types.Receipt, error)
}

// Deps carries everything a run needs. Construction funcs exist so each
// step can rebuild its clients from the current wallet record: a proxy
// replacement mid-run must be visible to the next dial.
type Deps struct {
	Wallets      WalletReader
	Health       Health
	Dial         func(ctx context.Context, network chain.Network, proxyURL string) (chain.Client, error)
	NewQuoter    func(wallet store.Wallet) (Quoter, error)
	NewLifecycle func(client chain.Client, wallet store.Wallet) (TxLifecycle, error)
	Settings     config.Settings
}

type Workflow struct {
	deps   Deps
	wallet store.Wallet
	state  State
}

func New(deps Deps, wallet store.Wallet) *Workflow {
	return &Workflow{deps: deps, wallet: wallet, state: StateIdle}
}

func (w *Workflow) State() State { return w.state }

// Run executes the requested sub-sequence and reduces whatever happened to
// one Outcome.
func (w *Workflow) Run(ctx context.Context, mode Mode) Outcome {
	err := w.run(ctx, mode)
	outcome := Outcome{
		WalletID: w.wallet.ID,
		Address:  w.wallet.PublicKey,
		Status:   statusFor(err),
	}
	if err != nil {
		w.state = StateFailed
		outcome.Reason = err.Error()
		logx.Error("wallet run failed", "wallet", w.wallet.PublicKey, "status", outcome.Status, "err", err)
	} else {
		w.state = StateDone
		logx.Info("wallet run done", "wallet", w.wallet.PublicKey)
	}
	return outcome
}

func (w *Workflow) run(ctx context.Context, mode Mode) error {
	switch mode {
	case ModeBridgeOnly:
		return w.bridgePhase(ctx)
	case ModeSwapOnly:
		return w.swapPhase(ctx)
	case ModeFull:
		if err := w.bridgePhase(ctx); err != nil {
			return err
		}
		return w.swapPhase(ctx)
	default:
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown mode %q", mode))
	}
}

// --- bridge phase -----------------------------------------------------

func (w *Workflow) bridgePhase(ctx context.Context) error {
	w.state = StateBridgeCheck
	funded, err := w.destinationFunded(ctx)
	if err != nil {
		return err
	}
	if funded {
		w.state = StateAlreadyFunded
		logx.Info("destination already funded", "wallet", w.wallet.PublicKey)
		return nil
	}

	cfg := w.deps.Settings
	w.deps.Health.ResetFailures(w.wallet.ID)
	var lastErr error
	for attempt := 0; attempt < cfg.MaxProxyFailures; attempt++ {
		if err := ctx.Err(); err != nil {
			return clierr.Wrap(clierr.CodeInternal, "bridge cancelled", err)
		}

		// The source network is re-randomized on every try: a chain that
		// failed once is not excluded, and balances may have moved.
		w.state = StateSelectNetwork
		network, err := w.selectNetwork(ctx)
		if err == nil {
			w.state = StateBridging
			err = w.bridgeOnce(ctx, network)
			if err == nil {
				w.deps.Health.RecordSuccess(w.wallet.ID)
				w.state = StateAwaitArrival
				return w.awaitArrival(ctx)
			}
		}
		if !clierr.IsRetryable(err) {
			return err
		}
		lastErr = err
		if clierr.IsTransient(err) {
			replaced, noteErr := w.noteTransientFailure(ctx, err)
			if noteErr != nil {
				return noteErr
			}
			if replaced {
				// A fresh proxy deserves a fresh failure budget.
				attempt = -1
			}
		}

		logx.Warn("bridge attempt failed, backing off",
			"wallet", w.wallet.PublicKey, "attempt", attempt+1, "err", lastErr)
		if err := retry.Sleep(ctx, retry.Jitter(0, cfg.BridgeBackoffMax)); err != nil {
			return err
		}
	}
	return clierr.Wrap(clierr.CodeNetwork, "bridge failure budget exhausted", lastErr)
}

// selectNetwork probes every enabled source chain concurrently and picks
// one qualifying candidate uniformly at random. This is the only point in
// a run where calls for the same wallet overlap.
func (w *Workflow) selectNetwork(ctx context.Context) (chain.Network, error) {
	cfg := w.deps.Settings
	var candidates []chain.Network
	if cfg.UseBase {
		candidates = append(candidates, chain.Base)
	}
	if cfg.UseArbitrum {
		candidates = append(candidates, chain.Arbitrum)
	}
	if cfg.UseOptimism {
		candidates = append(candidates, chain.Optimism)
	}
	if len(candidates) == 0 {
		return chain.Network{}, clierr.New(clierr.CodeNoNetwork, "no source chains enabled")
	}

	floor := chain.EtherToWei(cfg.MinSourceFloor)
	address := common.HexToAddress(w.wallet.PublicKey)

	type probe struct {
		network chain.Network
		balance *big.Int
		err     error
	}
	results := make([]probe, len(candidates))
	var wg sync.WaitGroup
	for i, network := range candidates {
		wg.Add(1)
		go func(i int, network chain.Network) {
			defer wg.Done()
			results[i] = probe{network: network}
			results[i].err = w.withClient(ctx, network, func(c chain.Client) error {
				balance, err := c.BalanceAt(ctx, address)
				if err != nil {
					return err
				}
				results[i].balance = balance
				return nil
			})
		}(i, network)
	}
	wg.Wait()

	var pool []chain.Network
	var probeErr error
	for _, r := range results {
		if r.err != nil {
			if probeErr == nil {
				probeErr = r.err
			}
			continue
		}
		if r.balance.Cmp(floor) >= 0 {
			pool = append(pool, r.network)
		}
	}
	if len(pool) == 0 {
		if probeErr != nil {
			return chain.Network{}, probeErr
		}
		// No amount of retrying changes wallet balances.
		return chain.Network{}, clierr.New(clierr.CodeNoNetwork, "no source chain holds enough balance to bridge")
	}
	return pool[rand.Intn(len(pool))], nil
}

// bridgeOnce performs one quote-and-deposit round trip on the chosen
// source chain.
func (w *Workflow) bridgeOnce(ctx context.Context, network chain.Network) error {
	cfg := w.deps.Settings
	address := common.HexToAddress(w.wallet.PublicKey)

	return w.withClient(ctx, network, func(c chain.Client) error {
		balance, err := c.BalanceAt(ctx, address)
		if err != nil {
			return err
		}
		// Bridge a fixed fraction of the balance, leaving gas headroom.
		amount := chain.Fraction(balance, int64(cfg.BridgeFraction*100), 100)
		if amount.Sign() <= 0 {
			return clierr.New(clierr.CodeInsufficientFunds, "source balance too small to bridge")
		}

		quoter, err := w.deps.NewQuoter(w.wallet)
		if err != nil {
			return err
		}
		call, err := quoter.Quote(ctx, bridge.QuoteRequest{
			User:        address,
			OriginChain: network.ChainID,
			DestChain:   chain.PlumeChainID,
			Recipient:   address,
			AmountWei:   amount,
		})
		if err != nil {
			return err
		}
		if balance.Cmp(call.Value) < 0 {
			return clierr.New(clierr.CodeInsufficientFunds,
				fmt.Sprintf("balance %s below bridge deposit %s", balance, call.Value))
		}

		lifecycle, err := w.deps.NewLifecycle(c, w.wallet)
		if err != nil {
			return err
		}
		logx.Info("bridging to Plume",
			"wallet", w.wallet.PublicKey, "source", network.Name, "amount", chain.WeiToEther(amount))
		attempt, err := lifecycle.Submit(ctx, txmgr.Request{To: call.To, Value: call.Value, Data: call.Data})
		if err != nil {
			return err
		}
		_, err = lifecycle.AwaitReceipt(ctx, attempt, cfg.ReceiptTimeout)
		return err
	})
}

// awaitArrival polls the destination balance until it clears the funded
// threshold. With max_wait unset the poll is unbounded — a documented
// liveness risk the operator accepts, not something this layer papers
// over.
func (w *Workflow) awaitArrival(ctx context.Context) error {
	cfg := w.deps.Settings
	waitCtx := ctx
	if cfg.ArrivalMaxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, cfg.ArrivalMaxWait)
		defer cancel()
	}
	for {
		funded, err := w.destinationFunded(waitCtx)
		if err == nil && funded {
			logx.Info("bridge arrived", "wallet", w.wallet.PublicKey)
			return nil
		}
		if err != nil {
			logx.Warn("arrival check failed, will poll again", "wallet", w.wallet.PublicKey, "err", err)
		}
		if sleepErr := retry.Sleep(waitCtx, cfg.ArrivalPollInterval); sleepErr != nil {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				return clierr.New(clierr.CodeTimeout, "bridge arrival wait exceeded arrival.max_wait")
			}
			return sleepErr
		}
	}
}

// --- swap phase -------------------------------------------------------

func (w *Workflow) swapPhase(ctx context.Context) error {
	w.state = StateSwapCheck
	funded, err := w.destinationFunded(ctx)
	if err != nil {
		return err
	}
	if !funded {
		return clierr.New(clierr.CodeInsufficientFunds, "no balance on Plume to swap with")
	}

	cfg := w.deps.Settings
	address := common.HexToAddress(w.wallet.PublicKey)
	w.state = StateSwapLoop
	for {
		if err := ctx.Err(); err != nil {
			return clierr.Wrap(clierr.CodeInternal, "swap loop cancelled", err)
		}

		// The account nonce doubles as the activity counter.
		var nonce uint64
		err := w.classifiedRead(ctx, chain.Plume, func(c chain.Client) error {
			n, err := c.NonceAt(ctx, address)
			if err != nil {
				return err
			}
			nonce = n
			return nil
		})
		if err != nil {
			return err
		}
		if nonce >= cfg.SwapTargetNonce {
			logx.Info("swap target reached", "wallet", w.wallet.PublicKey, "nonce", nonce)
			return nil
		}
		logx.Info("swap progress", "wallet", w.wallet.PublicKey, "nonce", nonce, "target", cfg.SwapTargetNonce)

		if err := w.submitSwap(ctx); err != nil {
			return err
		}
		if err := retry.Sleep(ctx, retry.Jitter(cfg.SwapDelayMin, cfg.SwapDelayMax)); err != nil {
			return err
		}
	}
}

// submitSwap runs one wrap-or-unwrap submission under the same failure
// budget as the bridge phase: transient errors count toward the wallet's
// proxy health, a replacement restarts with a fresh budget, exhaustion
// surfaces as a retryable network error for the caller to map.
func (w *Workflow) submitSwap(ctx context.Context) error {
	cfg := w.deps.Settings
	w.deps.Health.ResetFailures(w.wallet.ID)
	var lastErr error
	for attempt := 0; attempt < cfg.MaxProxyFailures; attempt++ {
		if err := ctx.Err(); err != nil {
			return clierr.Wrap(clierr.CodeInternal, "swap cancelled", err)
		}
		err := w.swapOnce(ctx)
		if err == nil {
			w.deps.Health.RecordSuccess(w.wallet.ID)
			return nil
		}
		if !clierr.IsRetryable(err) {
			return err
		}
		lastErr = err
		if clierr.IsTransient(err) {
			replaced, noteErr := w.noteTransientFailure(ctx, err)
			if noteErr != nil {
				return noteErr
			}
			if replaced {
				// A fresh proxy deserves a fresh failure budget.
				attempt = -1
			}
		}
		logx.Warn("swap attempt failed, backing off",
			"wallet", w.wallet.PublicKey, "attempt", attempt+1, "err", lastErr)
		if err := retry.Sleep(ctx, retry.Jitter(cfg.ErrorDelayMin, cfg.ErrorDelayMax)); err != nil {
			return err
		}
	}
	return clierr.Wrap(clierr.CodeNetwork, "swap failure budget exhausted", lastErr)
}

// swapOnce unwraps the whole WPLUME balance when one exists, otherwise
// wraps a random slice of the native balance. Alternating keeps the wallet
// busy without draining it.
func (w *Workflow) swapOnce(ctx context.Context) error {
	cfg := w.deps.Settings
	address := common.HexToAddress(w.wallet.PublicKey)

	return w.withClient(ctx, chain.Plume, func(c chain.Client) error {
		wrapped, err := c.TokenBalance(ctx, chain.WPLUME, address)
		if err != nil {
			return err
		}

		var req txmgr.Request
		if wrapped.Sign() > 0 {
			logx.Info("unwrapping WPLUME", "wallet", w.wallet.PublicKey, "amount", chain.WeiToEther(wrapped))
			req, err = swap.UnwrapRequest(wrapped)
		} else {
			balance, berr := c.BalanceAt(ctx, address)
			if berr != nil {
				return berr
			}
			fraction := cfg.WrapFractionMin + rand.Float64()*(cfg.WrapFractionMax-cfg.WrapFractionMin)
			amount := chain.Fraction(balance, int64(fraction*1000), 1000)
			if amount.Sign() <= 0 {
				return clierr.New(clierr.CodeInsufficientFunds, "nothing left to wrap")
			}
			logx.Info("wrapping PLUME", "wallet", w.wallet.PublicKey, "amount", chain.WeiToEther(amount))
			req, err = swap.WrapRequest(amount)
		}
		if err != nil {
			return err
		}

		lifecycle, err := w.deps.NewLifecycle(c, w.wallet)
		if err != nil {
			return err
		}
		attempt, err := lifecycle.Submit(ctx, req)
		if err != nil {
			return err
		}
		_, err = lifecycle.AwaitReceipt(ctx, attempt, cfg.ReceiptTimeout)
		return err
	})
}

// --- shared read plumbing ---------------------------------------------

// destinationFunded reads the Plume balance through the classified-retry
// path and compares it against the funded threshold. Safe to repeat: it
// never submits anything, which is what makes re-running BridgeCheck after
// an interrupted run idempotent.
func (w *Workflow) destinationFunded(ctx context.Context) (bool, error) {
	cfg := w.deps.Settings
	threshold := chain.EtherToWei(cfg.FundedThreshold)
	address := common.HexToAddress(w.wallet.PublicKey)

	var funded bool
	err := w.classifiedRead(ctx, chain.Plume, func(c chain.Client) error {
		balance, err := c.BalanceAt(ctx, address)
		if err != nil {
			return err
		}
		funded = balance.Cmp(threshold) > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return funded, nil
}

// classifiedRead runs a read operation under the proxy-health discipline:
// transient failures count toward the wallet's threshold, a successful
// replacement refreshes the wallet record and restarts the step with a
// fresh budget, a failed replacement sleeps the cooldown. The counter is
// scoped to this loop, not to the wallet's lifetime.
func (w *Workflow) classifiedRead(ctx context.Context, network chain.Network, read func(chain.Client) error) error {
	cfg := w.deps.Settings
	w.deps.Health.ResetFailures(w.wallet.ID)

	for {
		var replaced bool
		var noteErr error
		err := retry.Do(ctx, retry.Policy{
			MaxAttempts: cfg.MaxProxyFailures,
			BackoffMin:  cfg.ErrorDelayMin,
			BackoffMax:  cfg.ErrorDelayMax,
			Classify:    clierr.IsTransient,
			OnFailure: func(attempt int, cause error) bool {
				logx.Warn("possible proxy trouble",
					"wallet", w.wallet.PublicKey, "network", network.Name, "err", cause)
				replaced, noteErr = w.noteTransientFailure(ctx, cause)
				return !replaced && noteErr == nil
			},
		}, func() error {
			return w.withClient(ctx, network, read)
		})
		if noteErr != nil {
			return noteErr
		}
		if err == nil {
			w.deps.Health.RecordSuccess(w.wallet.ID)
			return nil
		}
		if replaced {
			// Fresh proxy, fresh budget.
			continue
		}
		return err
	}
}

// noteTransientFailure feeds one transient error into proxy-health
// accounting and reacts to whatever the manager decided: a successful
// replacement refreshes the wallet copy (reported so the caller can restart
// its step), a failed one costs the cooldown.
func (w *Workflow) noteTransientFailure(ctx context.Context, cause error) (bool, error) {
	result := w.deps.Health.RecordFailure(w.wallet.ID)
	if !result.MarkedBad {
		return false, nil
	}
	if result.Replaced {
		return true, w.refreshWallet()
	}
	logx.Warn("proxy replacement unavailable, cooling down",
		"wallet", w.wallet.PublicKey, "reason", result.ReplaceMessage, "cause", cause)
	return false, retry.Sleep(ctx, w.deps.Settings.ReplaceCooldown)
}

func (w *Workflow) refreshWallet() error {
	fresh, err := w.deps.Wallets.Get(w.wallet.ID)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "re-fetch wallet after proxy replacement", err)
	}
	w.wallet = fresh
	return nil
}

// withClient dials the network with the wallet's current proxy, runs fn
// and closes the client. Dialing fresh per step is what lets a proxy
// replacement take effect mid-run.
func (w *Workflow) withClient(ctx context.Context, network chain.Network, fn func(chain.Client) error) error {
	client, err := w.deps.Dial(ctx, network, w.wallet.Proxy)
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}
