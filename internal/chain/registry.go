package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Network describes one EVM chain the runner talks to.
type Network struct {
	Name         string
	ChainID      int64
	RPCURL       string
	NativeSymbol string
}

const (
	PlumeChainID    int64 = 98866
	BaseChainID     int64 = 8453
	ArbitrumChainID int64 = 42161
	OptimismChainID int64 = 10
)

var (
	Plume = Network{
		Name:         "Plume",
		ChainID:      PlumeChainID,
		RPCURL:       "https://phoenix-rpc.plumenetwork.xyz",
		NativeSymbol: "PLUME",
	}
	Base = Network{
		Name:         "Base",
		ChainID:      BaseChainID,
		RPCURL:       "https://mainnet.base.org",
		NativeSymbol: "ETH",
	}
	Arbitrum = Network{
		Name:         "Arbitrum",
		ChainID:      ArbitrumChainID,
		RPCURL:       "https://arb1.arbitrum.io/rpc",
		NativeSymbol: "ETH",
	}
	Optimism = Network{
		Name:         "Optimism",
		ChainID:      OptimismChainID,
		RPCURL:       "https://mainnet.optimism.io",
		NativeSymbol: "ETH",
	}
)

// WPLUME is the canonical wrapped-native token on Plume.
var WPLUME = common.HexToAddress("0xEa237441c92CAe6FC17Caaf9a7acB3f953be4bd1")

// NativeCurrency is the zero address convention used by the relay quote API
// for native-asset transfers.
var NativeCurrency = common.Address{}

var weiPerEther = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// EtherToWei converts a native-unit amount to wei, truncating below 1 wei.
func EtherToWei(amount float64) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(amount), weiPerEther)
	wei, _ := f.Int(nil)
	return wei
}

// WeiToEther converts wei to native units for thresholds and logging. Not
// suitable for value arithmetic.
func WeiToEther(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerEther).Float64()
	return f
}

// Fraction returns amount*num/den without going through floats.
func Fraction(amount *big.Int, num, den int64) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(num))
	return out.Div(out, big.NewInt(den))
}
