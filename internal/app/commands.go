package app

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	clierr "github.com/buldozerch/plume-runner/internal/errors"
	"github.com/buldozerch/plume-runner/internal/logx"
	"github.com/buldozerch/plume-runner/internal/store"
	"github.com/buldozerch/plume-runner/internal/workflow"
)

// Common desktop user agents. Each wallet keeps the one assigned at import
// for the rest of its life so its traffic stays self-consistent.
var desktopUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (X11; Linux x86_64; rv:127.0) Gecko/20100101 Firefox/127.0",
}

func (s *runtimeState) newImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Import private keys and proxies into the wallet store",
		Long: `Reads private keys from private.txt and proxies from proxy.txt in the
data directory, pairing them line by line. Keys already in the store are
skipped, so re-running import after appending new lines is safe.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := readLines(s.settings.PrivateKeysPath)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "read private keys", err)
			}
			if len(keys) == 0 {
				return clierr.New(clierr.CodeUsage, "no private keys in "+s.settings.PrivateKeysPath)
			}
			proxies, err := readLines(s.settings.ProxiesPath)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "read proxies", err)
			}

			added, skipped := 0, 0
			for i, key := range keys {
				address, err := deriveAddress(key)
				if err != nil {
					return clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("private key on line %d", i+1), err)
				}
				w := store.Wallet{
					PrivateKey: strings.TrimPrefix(key, "0x"),
					PublicKey:  address,
					UserAgent:  desktopUserAgents[rand.Intn(len(desktopUserAgents))],
				}
				if i < len(proxies) {
					w.Proxy = proxies[i]
				}
				inserted, err := s.wallets.Add(w)
				if err != nil {
					return clierr.Wrap(clierr.CodeInternal, "store wallet", err)
				}
				if inserted {
					added++
					logx.Info("wallet imported", "address", address, "has_proxy", w.Proxy != "")
				} else {
					skipped++
				}
			}
			fmt.Fprintf(s.runner.stdout, "imported %d wallets, %d already present\n", added, skipped)
			return nil
		},
	}
}

func (s *runtimeState) newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full bridge-then-swap workflow for every selected wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runBatch(cmd, workflow.ModeFull)
		},
	}
}

func (s *runtimeState) newBridgeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bridge",
		Short: "Top up destination balances only, skipping the swap loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runBatch(cmd, workflow.ModeBridgeOnly)
		},
	}
}

func (s *runtimeState) newSwapCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "swap",
		Short: "Run the wrap/unwrap loop only, assuming wallets are funded",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runBatch(cmd, workflow.ModeSwapOnly)
		},
	}
}

func (s *runtimeState) newProxiesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxies",
		Short: "Inspect and repair wallet proxies",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "replace-bad",
		Short: "Assign reserve proxies to every wallet whose proxy is marked BAD",
		RunE: func(c *cobra.Command, args []string) error {
			replaced, total, err := s.health.ReplaceAllBad()
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "replace bad proxies", err)
			}
			fmt.Fprintf(s.runner.stdout, "replaced %d of %d bad proxies\n", replaced, total)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list-bad",
		Short: "List wallets whose proxy is marked BAD",
		RunE: func(c *cobra.Command, args []string) error {
			bad, err := s.wallets.ListBadProxy()
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list bad proxies", err)
			}
			if len(bad) == 0 {
				fmt.Fprintln(s.runner.stdout, "no wallets with a BAD proxy")
				return nil
			}
			for _, w := range bad {
				fmt.Fprintf(s.runner.stdout, "%d\t%s\t%s\n", w.ID, w.PublicKey, w.Proxy)
			}
			return nil
		},
	})
	return cmd
}

func deriveAddress(privateKeyHex string) (string, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return "", err
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

// readLines returns the non-empty, non-comment lines of a text file.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}
