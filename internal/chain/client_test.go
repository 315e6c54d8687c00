package chain

import (
	"errors"
	"testing"

	clierr "github.com/buldozerch/plume-runner/internal/errors"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want clierr.Code
	}{
		{"insufficient funds", errors.New("insufficient funds for gas * price + value"), clierr.CodeInsufficientFunds},
		{"revert", errors.New("execution reverted: ERC20: transfer amount exceeds balance"), clierr.CodeRejected},
		{"nonce too low", errors.New("nonce too low"), clierr.CodeRejected},
		{"underpriced replacement", errors.New("replacement transaction underpriced"), clierr.CodeRejected},
		{"already known", errors.New("already known"), clierr.CodeRejected},
		{"connection refused", errors.New("dial tcp: connection refused"), clierr.CodeNetwork},
		{"proxy error", errors.New("proxyconnect tcp: EOF"), clierr.CodeNetwork},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify("op", tc.err)
			if clierr.CodeOf(got) != tc.want {
				t.Fatalf("Classify(%q) code = %d, want %d", tc.err, clierr.CodeOf(got), tc.want)
			}
		})
	}
}

func TestClassifyNil(t *testing.T) {
	if got := Classify("op", nil); got != nil {
		t.Fatalf("Classify(nil) = %v, want nil", got)
	}
}

func TestClassifyKeepsTypedErrors(t *testing.T) {
	typed := clierr.New(clierr.CodeTimeout, "receipt wait elapsed")
	got := Classify("op", typed)
	if clierr.CodeOf(got) != clierr.CodeTimeout {
		t.Fatalf("Classify rewrote a typed error to code %d", clierr.CodeOf(got))
	}
}
