package bridge

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/buldozerch/plume-runner/internal/errors"
	"github.com/buldozerch/plume-runner/internal/httpx"
)

func testClient(t *testing.T, quoteURL string) *Client {
	t.Helper()
	httpClient, err := httpx.New(5*time.Second, 0, "", "Mozilla/5.0 test")
	if err != nil {
		t.Fatal(err)
	}
	c := New(httpClient)
	c.quoteURL = quoteURL
	return c
}

func quoteReq(amount int64) QuoteRequest {
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	return QuoteRequest{
		User:        addr,
		OriginChain: 8453,
		DestChain:   98866,
		Recipient:   addr,
		AmountWei:   big.NewInt(amount),
	}
}

func TestQuoteParsesDepositCall(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("request body is not JSON: %v", err)
		}
		w.Write([]byte(`{
			"steps": [
				{"items": [{"data": {"to": "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "data": "0x00", "value": "0"}}]},
				{"items": [{"data": {"to": "0xBBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB", "data": "0xdeadbeef", "value": "950000000000000000"}}]}
			]
		}`))
	}))
	defer srv.Close()

	call, err := testClient(t, srv.URL).Quote(context.Background(), quoteReq(1_000_000))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}

	// The deposit transaction is the last step's first item.
	if call.To != common.HexToAddress("0xBBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB") {
		t.Errorf("call target = %s", call.To.Hex())
	}
	if call.Value.String() != "950000000000000000" {
		t.Errorf("call value = %s", call.Value)
	}
	if len(call.Data) != 4 || call.Data[0] != 0xde {
		t.Errorf("calldata = %x", call.Data)
	}

	zero := common.Address{}.Hex()
	if captured["tradeType"] != "EXACT_INPUT" {
		t.Errorf("tradeType = %v", captured["tradeType"])
	}
	if captured["originCurrency"] != zero || captured["destinationCurrency"] != zero {
		t.Error("native transfer must use the zero-address currency convention")
	}
	if captured["amount"] != "1000000" {
		t.Errorf("amount = %v, want the wei string", captured["amount"])
	}
	if captured["originChainId"] != float64(8453) || captured["destinationChainId"] != float64(98866) {
		t.Errorf("chain ids = %v -> %v", captured["originChainId"], captured["destinationChainId"])
	}
}

func TestQuoteHexValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"steps": [{"items": [{"data": {"to": "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "data": "0x01", "value": "0x0de0b6b3a7640000"}}]}]}`))
	}))
	defer srv.Close()

	call, err := testClient(t, srv.URL).Quote(context.Background(), quoteReq(1))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if call.Value.Cmp(big.NewInt(1e18)) != 0 {
		t.Fatalf("hex value parsed as %s, want 1e18", call.Value)
	}
}

func TestQuoteMalformedResponsesAreRetryable(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"no steps", `{"steps": []}`},
		{"no items", `{"steps": [{"items": []}]}`},
		{"missing target", `{"steps": [{"items": [{"data": {"to": "", "data": "0x01", "value": "0"}}]}]}`},
		{"bad target", `{"steps": [{"items": [{"data": {"to": "not-an-address", "data": "0x01", "value": "0"}}]}]}`},
		{"bad value", `{"steps": [{"items": [{"data": {"to": "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "data": "0x01", "value": "many"}}]}]}`},
		{"bad calldata", `{"steps": [{"items": [{"data": {"to": "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "data": "0xZZ", "value": "0"}}]}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := testClient(t, srv.URL).Quote(context.Background(), quoteReq(1))
			if clierr.CodeOf(err) != clierr.CodeNetwork {
				t.Fatalf("error = %v, want a network-class error so the workflow retries", err)
			}
		})
	}
}

func TestQuoteServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).Quote(context.Background(), quoteReq(1))
	if clierr.CodeOf(err) != clierr.CodeNetwork {
		t.Fatalf("error = %v, want a network-class error", err)
	}
}
