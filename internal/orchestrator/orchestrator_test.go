package orchestrator

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/buldozerch/plume-runner/internal/chain"
	"github.com/buldozerch/plume-runner/internal/config"
	clierr "github.com/buldozerch/plume-runner/internal/errors"
	"github.com/buldozerch/plume-runner/internal/proxy"
	"github.com/buldozerch/plume-runner/internal/store"
	"github.com/buldozerch/plume-runner/internal/workflow"
)

// stubClient answers every read with "funded and done": the destination
// balance clears the threshold and the nonce sits at the target, so a
// swap-only run succeeds without ever submitting.
type stubClient struct{ network chain.Network }

func (c *stubClient) Network() chain.Network { return c.network }

func (c *stubClient) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	return chain.EtherToWei(6), nil
}

func (c *stubClient) TokenBalance(ctx context.Context, token, addr common.Address) (*big.Int, error) {
	return new(big.Int), nil
}

func (c *stubClient) NonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	return 400, nil
}

func (c *stubClient) HeadNumber(ctx context.Context) (uint64, error) { return 1, nil }

func (c *stubClient) SuggestFees(ctx context.Context) (*big.Int, *big.Int, error) {
	return big.NewInt(1), big.NewInt(2), nil
}

func (c *stubClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 21_000, nil
}

func (c *stubClient) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return nil, nil
}

func (c *stubClient) SendTransaction(ctx context.Context, tx *types.Transaction) error { return nil }

func (c *stubClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}

func (c *stubClient) Close() {}

type noopHealth struct{}

func (noopHealth) RecordFailure(walletID int64) proxy.FailureResult { return proxy.FailureResult{} }
func (noopHealth) RecordSuccess(walletID int64)                     {}
func (noopHealth) ResetFailures(walletID int64)                     {}

type mapWallets struct{ wallets map[int64]store.Wallet }

func (m *mapWallets) Get(id int64) (store.Wallet, error) { return m.wallets[id], nil }

func testSettings() config.Settings {
	return config.Settings{
		FundedThreshold:     5,
		SwapTargetNonce:     400,
		MaxProxyFailures:    2,
		ArrivalPollInterval: time.Millisecond,
		ReplaceCooldown:     time.Millisecond,
		RPCTimeout:          time.Second,
		ReceiptTimeout:      time.Second,
	}
}

// testDeps routes each wallet by its proxy field: "reject" dials fail with
// a rejection, "flaky" with a network error, "panic" panics, anything else
// gets the happy stub.
func testDeps(wallets []store.Wallet) workflow.Deps {
	byID := &mapWallets{wallets: make(map[int64]store.Wallet)}
	for _, w := range wallets {
		byID.wallets[w.ID] = w
	}
	return workflow.Deps{
		Wallets:  byID,
		Health:   noopHealth{},
		Settings: testSettings(),
		Dial: func(ctx context.Context, network chain.Network, proxyURL string) (chain.Client, error) {
			switch proxyURL {
			case "reject":
				return nil, clierr.New(clierr.CodeRejected, "node refused us")
			case "flaky":
				return nil, clierr.New(clierr.CodeNetwork, "connection reset")
			case "panic":
				panic("wiring bug")
			default:
				return &stubClient{network: network}, nil
			}
		},
		NewQuoter: func(w store.Wallet) (workflow.Quoter, error) {
			return nil, clierr.New(clierr.CodeInternal, "quoter not expected in this test")
		},
		NewLifecycle: func(client chain.Client, w store.Wallet) (workflow.TxLifecycle, error) {
			return nil, clierr.New(clierr.CodeInternal, "lifecycle not expected in this test")
		},
	}
}

func TestSelectRange(t *testing.T) {
	wallets := []store.Wallet{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}}
	cases := []struct {
		name       string
		start, end int
		wantIDs    []int64
	}{
		{"all", 0, 0, []int64{1, 2, 3, 4}},
		{"window", 1, 3, []int64{2, 3}},
		{"open end", 2, 0, []int64{3, 4}},
		{"negative start", -5, 2, []int64{1, 2}},
		{"start past end", 10, 0, nil},
		{"end past length", 1, 99, []int64{2, 3, 4}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SelectRange(wallets, tc.start, tc.end)
			if len(got) != len(tc.wantIDs) {
				t.Fatalf("selected %d wallets, want %d", len(got), len(tc.wantIDs))
			}
			for i, w := range got {
				if w.ID != tc.wantIDs[i] {
					t.Errorf("position %d has wallet %d, want %d", i, w.ID, tc.wantIDs[i])
				}
			}
		})
	}
}

func TestRunAggregatesOutcomes(t *testing.T) {
	wallets := []store.Wallet{
		{ID: 1, PublicKey: "0xaaa1"},
		{ID: 2, PublicKey: "0xaaa2", Proxy: "reject"},
		{ID: 3, PublicKey: "0xaaa3", Proxy: "flaky"},
	}
	o := New(testDeps(wallets))

	summary := o.Run(context.Background(), wallets, workflow.ModeSwapOnly)
	if summary.Total != 3 {
		t.Fatalf("total = %d, want 3", summary.Total)
	}
	if summary.Success != 1 || summary.Soft != 1 || summary.Hard != 1 {
		t.Fatalf("summary = %s, want one of each", summary)
	}
	if len(summary.Outcomes) != 3 {
		t.Fatalf("%d outcomes, want one per wallet", len(summary.Outcomes))
	}

	byWallet := make(map[int64]workflow.Outcome)
	for _, outcome := range summary.Outcomes {
		byWallet[outcome.WalletID] = outcome
	}
	if byWallet[1].Status != workflow.StatusSuccess {
		t.Errorf("wallet 1 = %+v, want success", byWallet[1])
	}
	if byWallet[2].Status != workflow.StatusHardFailure {
		t.Errorf("wallet 2 = %+v, want hard failure", byWallet[2])
	}
	if byWallet[3].Status != workflow.StatusSoftFailure {
		t.Errorf("wallet 3 = %+v, want soft failure", byWallet[3])
	}
}

func TestRunRecoversWorkerPanic(t *testing.T) {
	wallets := []store.Wallet{
		{ID: 1, PublicKey: "0xaaa1"},
		{ID: 2, PublicKey: "0xaaa2", Proxy: "panic"},
	}
	o := New(testDeps(wallets))

	summary := o.Run(context.Background(), wallets, workflow.ModeSwapOnly)
	if summary.Total != 2 || summary.Success != 1 || summary.Hard != 1 {
		t.Fatalf("summary = %s, want the panicking worker counted as hard", summary)
	}
	for _, outcome := range summary.Outcomes {
		if outcome.WalletID == 2 {
			if outcome.Status != workflow.StatusHardFailure {
				t.Errorf("panicking wallet = %+v, want hard failure", outcome)
			}
			if !strings.Contains(outcome.Reason, "panic") {
				t.Errorf("reason = %q, want the panic surfaced", outcome.Reason)
			}
		}
	}
}

func TestRunDoesNotMutateInput(t *testing.T) {
	wallets := []store.Wallet{
		{ID: 1, PublicKey: "0xaaa1"},
		{ID: 2, PublicKey: "0xaaa2"},
		{ID: 3, PublicKey: "0xaaa3"},
	}
	o := New(testDeps(wallets))
	o.Run(context.Background(), wallets, workflow.ModeSwapOnly)

	// The dispatch shuffle must work on a copy.
	for i, w := range wallets {
		if w.ID != int64(i+1) {
			t.Fatalf("input slice reordered: %+v", wallets)
		}
	}
}

func TestSummaryString(t *testing.T) {
	s := Summary{Total: 5, Success: 3, Soft: 1, Hard: 1}
	got := s.String()
	if !strings.Contains(got, "5 wallets") || !strings.Contains(got, "3 succeeded") {
		t.Fatalf("String() = %q", got)
	}
}
