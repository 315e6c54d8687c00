// Package bridge talks to the relay.link quote API, which turns a
// cross-chain transfer intent into a concrete contract call to submit on
// the origin chain.
package bridge

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/buldozerch/plume-runner/internal/chain"
	clierr "github.com/buldozerch/plume-runner/internal/errors"
	"github.com/buldozerch/plume-runner/internal/httpx"
)

const defaultQuoteURL = "https://api.relay.link/quote"

type Client struct {
	http     *httpx.Client
	quoteURL string
}

func New(httpClient *httpx.Client) *Client {
	return &Client{http: httpClient, quoteURL: defaultQuoteURL}
}

// QuoteRequest is a native-to-native EXACT_INPUT transfer intent.
type QuoteRequest struct {
	User        common.Address
	OriginChain int64
	DestChain   int64
	Recipient   common.Address
	AmountWei   *big.Int
}

// Call is the origin-chain transaction the relay API asks us to submit.
type Call struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

type quoteBody struct {
	User                 string `json:"user"`
	OriginChainID        int64  `json:"originChainId"`
	DestinationChainID   int64  `json:"destinationChainId"`
	OriginCurrency       string `json:"originCurrency"`
	DestinationCurrency  string `json:"destinationCurrency"`
	Recipient            string `json:"recipient"`
	TradeType            string `json:"tradeType"`
	Amount               string `json:"amount"`
	Referrer             string `json:"referrer"`
	UseExternalLiquidity bool   `json:"useExternalLiquidity"`
	UseDepositAddress    bool   `json:"useDepositAddress"`
	TopupGas             bool   `json:"topupGas"`
}

type quoteResponse struct {
	Steps []struct {
		Items []struct {
			Data struct {
				To    string `json:"to"`
				Data  string `json:"data"`
				Value string `json:"value"`
			} `json:"data"`
		} `json:"items"`
	} `json:"steps"`
}

// Quote fetches the deposit call for the transfer. Malformed or non-2xx
// responses come back as CodeNetwork: the quote API is flaky enough that
// callers treat these as retryable.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (Call, error) {
	nativeCurrency := chain.NativeCurrency.Hex()
	body, err := json.Marshal(quoteBody{
		User:                req.User.Hex(),
		OriginChainID:       req.OriginChain,
		DestinationChainID:  req.DestChain,
		OriginCurrency:      nativeCurrency,
		DestinationCurrency: nativeCurrency,
		Recipient:           req.Recipient.Hex(),
		TradeType:           "EXACT_INPUT",
		Amount:              req.AmountWei.String(),
		Referrer:            "relay.link",
	})
	if err != nil {
		return Call{}, clierr.Wrap(clierr.CodeInternal, "encode quote request", err)
	}

	var resp quoteResponse
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.quoteURL, body, browserHeaders(), &resp); err != nil {
		return Call{}, err
	}

	if len(resp.Steps) == 0 || len(resp.Steps[len(resp.Steps)-1].Items) == 0 {
		return Call{}, clierr.New(clierr.CodeNetwork, "quote response missing execution steps")
	}
	// The deposit transaction is the last step's first item.
	payload := resp.Steps[len(resp.Steps)-1].Items[0].Data
	if strings.TrimSpace(payload.To) == "" || strings.TrimSpace(payload.Data) == "" {
		return Call{}, clierr.New(clierr.CodeNetwork, "quote response missing transaction payload")
	}
	if !common.IsHexAddress(payload.To) {
		return Call{}, clierr.New(clierr.CodeNetwork, "quote response target is not an address")
	}
	value, ok := parseValue(payload.Value)
	if !ok {
		return Call{}, clierr.New(clierr.CodeNetwork, "quote response value is not numeric")
	}
	data, err := decodeHex(payload.Data)
	if err != nil {
		return Call{}, clierr.Wrap(clierr.CodeNetwork, "quote response calldata is not hex", err)
	}

	return Call{
		To:    common.HexToAddress(payload.To),
		Data:  data,
		Value: value,
	}, nil
}

// browserHeaders mirrors what the relay web client sends; the API is picky
// about bare programmatic requests.
func browserHeaders() map[string]string {
	return map[string]string{
		"Accept-Language":       "en-US,en;q=0.5",
		"Referer":               "https://relay.link/bridge/",
		"Origin":                "https://relay.link",
		"relay-sdk-version":     "2.3.0",
		"relay-kit-ui-version":  "2.15.7",
		"Sec-Fetch-Dest":        "empty",
		"Sec-Fetch-Mode":        "cors",
		"Sec-Fetch-Site":        "same-site",
	}
}

func parseValue(v string) (*big.Int, bool) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return new(big.Int), true
	}
	if strings.HasPrefix(clean, "0x") || strings.HasPrefix(clean, "0X") {
		n, ok := new(big.Int).SetString(clean[2:], 16)
		return n, ok
	}
	n, ok := new(big.Int).SetString(clean, 10)
	return n, ok
}

func decodeHex(v string) ([]byte, error) {
	clean := strings.TrimSpace(v)
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "0x"), "0X")
	if len(clean)%2 != 0 {
		clean = "0" + clean
	}
	return hex.DecodeString(clean)
}
