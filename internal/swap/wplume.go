// Package swap builds calldata for the WPLUME wrapped-native contract.
package swap

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/buldozerch/plume-runner/internal/chain"
	clierr "github.com/buldozerch/plume-runner/internal/errors"
	"github.com/buldozerch/plume-runner/internal/txmgr"
)

// WETH9-style interface: deposit wraps the attached native value, withdraw
// unwraps a token amount.
const wrappedNativeABI = `[
	{"name":"deposit","type":"function","stateMutability":"payable","inputs":[],"outputs":[]},
	{"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"wad","type":"uint256"}],"outputs":[]}
]`

var parsedABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(wrappedNativeABI))
	if err != nil {
		panic("parse wrapped native abi: " + err.Error())
	}
	parsedABI = parsed
}

// WrapRequest builds a deposit call attaching amountWei of native PLUME.
func WrapRequest(amountWei *big.Int) (txmgr.Request, error) {
	data, err := parsedABI.Pack("deposit")
	if err != nil {
		return txmgr.Request{}, clierr.Wrap(clierr.CodeInternal, "pack deposit calldata", err)
	}
	return txmgr.Request{To: chain.WPLUME, Value: amountWei, Data: data}, nil
}

// UnwrapRequest builds a withdraw call for amountWei of WPLUME.
func UnwrapRequest(amountWei *big.Int) (txmgr.Request, error) {
	data, err := parsedABI.Pack("withdraw", amountWei)
	if err != nil {
		return txmgr.Request{}, clierr.Wrap(clierr.CodeInternal, "pack withdraw calldata", err)
	}
	return txmgr.Request{To: chain.WPLUME, Value: new(big.Int), Data: data}, nil
}
