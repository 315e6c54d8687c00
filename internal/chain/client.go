package chain

import (
	"context"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	clierr "github.com/buldozerch/plume-runner/internal/errors"
)

// Client is the read/submit surface the transaction and workflow layers
// consume. The production implementation wraps ethclient; tests substitute
// fakes.
type Client interface {
	Network() Network
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, addr common.Address) (*big.Int, error)
	NonceAt(ctx context.Context, addr common.Address) (uint64, error)
	HeadNumber(ctx context.Context) (uint64, error)
	SuggestFees(ctx context.Context) (tipCap, feeCap *big.Int, err error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	Close()
}

type rpcClient struct {
	network Network
	eth     *ethclient.Client
}

// Dial connects to a network's RPC endpoint, routing all traffic through
// proxyURL when one is set. The wallet's proxy is the only egress path its
// chain reads and submissions use.
func Dial(ctx context.Context, network Network, proxyURL string, timeout time.Duration) (Client, error) {
	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if strings.TrimSpace(proxyURL) != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse proxy url", err)
		}
		transport.Proxy = http.ProxyURL(parsed)
	}
	httpClient := &http.Client{Transport: transport, Timeout: timeout}
	raw, err := rpc.DialOptions(ctx, network.RPCURL, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, Classify("dial rpc", err)
	}
	return &rpcClient{network: network, eth: ethclient.NewClient(raw)}, nil
}

func (c *rpcClient) Network() Network { return c.network }

func (c *rpcClient) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	balance, err := c.eth.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, Classify("read balance", err)
	}
	return balance, nil
}

var balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31} // balanceOf(address)

func (c *rpcClient) TokenBalance(ctx context.Context, token, addr common.Address) (*big.Int, error) {
	data := make([]byte, 0, 36)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(addr.Bytes(), 32)...)
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, Classify("read token balance", err)
	}
	if len(out) == 0 {
		return nil, clierr.New(clierr.CodeRejected, fmt.Sprintf("token %s returned no balance data", token.Hex()))
	}
	return new(big.Int).SetBytes(out), nil
}

func (c *rpcClient) NonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, Classify("read nonce", err)
	}
	return nonce, nil
}

func (c *rpcClient) HeadNumber(ctx context.Context) (uint64, error) {
	head, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, Classify("read head", err)
	}
	return head, nil
}

func (c *rpcClient) SuggestFees(ctx context.Context) (*big.Int, *big.Int, error) {
	tipCap, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		tipCap = big.NewInt(2_000_000_000) // 2 gwei fallback
	}
	header, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, Classify("fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)
	return tipCap, feeCap, nil
}

func (c *rpcClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	gas, err := c.eth.EstimateGas(ctx, msg)
	if err != nil {
		return 0, Classify("estimate gas", err)
	}
	return gas, nil
}

func (c *rpcClient) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	out, err := c.eth.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, Classify("call contract", err)
	}
	return out, nil
}

func (c *rpcClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return Classify("broadcast transaction", err)
	}
	return nil
}

func (c *rpcClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := c.eth.TransactionReceipt(ctx, hash)
	if err != nil {
		if err == ethereum.NotFound {
			return nil, ethereum.NotFound
		}
		return nil, Classify("read receipt", err)
	}
	return receipt, nil
}

func (c *rpcClient) Close() { c.eth.Close() }

// Classify maps a raw transport or node error onto the runner's taxonomy.
// Connection-level failures become CodeNetwork so they count toward proxy
// health; node-side rejections become CodeRejected or CodeInsufficientFunds
// and are never blamed on the proxy.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if typed, ok := clierr.As(err); ok {
		return typed
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return clierr.Wrap(clierr.CodeInsufficientFunds, op, err)
	case strings.Contains(msg, "execution reverted"),
		strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "replacement transaction underpriced"),
		strings.Contains(msg, "already known"):
		return clierr.Wrap(clierr.CodeRejected, op, err)
	}
	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		return clierr.Wrap(clierr.CodeNetwork, op, err)
	}
	// Anything else is treated as a connection-path failure. The workflow
	// restarts its step after a replacement, so misclassifying a rare node
	// error as proxy trouble costs one counter tick, not correctness.
	return clierr.Wrap(clierr.CodeNetwork, op, err)
}
