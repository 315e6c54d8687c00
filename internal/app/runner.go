package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/buldozerch/plume-runner/internal/bridge"
	"github.com/buldozerch/plume-runner/internal/chain"
	"github.com/buldozerch/plume-runner/internal/config"
	clierr "github.com/buldozerch/plume-runner/internal/errors"
	"github.com/buldozerch/plume-runner/internal/httpx"
	"github.com/buldozerch/plume-runner/internal/logx"
	"github.com/buldozerch/plume-runner/internal/orchestrator"
	"github.com/buldozerch/plume-runner/internal/proxy"
	"github.com/buldozerch/plume-runner/internal/store"
	"github.com/buldozerch/plume-runner/internal/txmgr"
	"github.com/buldozerch/plume-runner/internal/version"
	"github.com/buldozerch/plume-runner/internal/workflow"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{stdout: stdout, stderr: stderr}
}

type runtimeState struct {
	runner   *Runner
	flags    config.GlobalFlags
	settings config.Settings
	wallets  *store.Store
	pool     *proxy.Pool
	health   *proxy.Manager
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	if state.wallets != nil {
		_ = state.wallets.Close()
	}
	if err == nil {
		return 0
	}
	fmt.Fprintf(r.stderr, "error: %v\n", err)
	return clierr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Concurrent Plume bridge/swap runner for a wallet fleet",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch cmd.Name() {
			case "help", "version", "completion", cobra.ShellCompRequestCmd:
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			logx.Setup(settings.LogLevel, settings.LogJSON)

			wallets, err := store.Open(settings.WalletStorePath, settings.WalletLockPath)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "open wallet store", err)
			}
			s.wallets = wallets

			pool, err := proxy.OpenPool(settings.ReserveProxyPath)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "open reserve proxy pool", err)
			}
			s.pool = pool
			s.health = proxy.NewManager(pool, wallets, settings.MaxProxyFailures, settings.AutoReplace)
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&s.flags.ConfigPath, "config", "", "path to config.yaml")
	flags.StringVar(&s.flags.DataDir, "data-dir", "", "directory holding wallets.db and input files")
	flags.IntVar(&s.flags.RangeStart, "from", -1, "first wallet index to process")
	flags.IntVar(&s.flags.RangeEnd, "to", 0, "wallet index to stop before (0 = all)")
	flags.StringVar(&s.flags.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	flags.BoolVar(&s.flags.LogJSON, "log-json", false, "emit JSON logs")

	cmd.AddCommand(
		s.newImportCommand(),
		s.newRunCommand(),
		s.newBridgeCommand(),
		s.newSwapCommand(),
		s.newProxiesCommand(),
		newVersionCommand(),
	)
	return cmd
}

// workflowDeps wires the production implementations behind the workflow's
// interfaces.
func (s *runtimeState) workflowDeps() workflow.Deps {
	settings := s.settings
	return workflow.Deps{
		Wallets:  s.wallets,
		Health:   s.health,
		Settings: settings,
		Dial: func(ctx context.Context, network chain.Network, proxyURL string) (chain.Client, error) {
			return chain.Dial(ctx, network, proxyURL, settings.RPCTimeout)
		},
		NewQuoter: func(w store.Wallet) (workflow.Quoter, error) {
			httpClient, err := httpx.New(settings.RPCTimeout, settings.HTTPRetries, w.Proxy, w.UserAgent)
			if err != nil {
				return nil, err
			}
			return bridge.New(httpClient), nil
		},
		NewLifecycle: func(client chain.Client, w store.Wallet) (workflow.TxLifecycle, error) {
			return txmgr.New(client, w.PrivateKey, txmgr.Options{
				PollInterval: settings.ReceiptInterval,
			})
		},
	}
}

// runBatch executes one orchestrated batch for the requested mode. The
// signal handler cancels the shared context so an operator interrupt winds
// every worker down at its next suspension point; balance and nonce checks
// make a rerun safe.
func (s *runtimeState) runBatch(cmd *cobra.Command, mode workflow.Mode) error {
	all, err := s.wallets.ListAll()
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "list wallets", err)
	}
	if len(all) == 0 {
		return clierr.New(clierr.CodeUsage, "no wallets in the store, run import first")
	}
	selected := orchestrator.SelectRange(all, s.settings.RangeStart, s.settings.RangeEnd)
	if len(selected) == 0 {
		return clierr.New(clierr.CodeUsage, "wallet range selects no wallets")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	summary := orchestrator.New(s.workflowDeps()).Run(ctx, selected, mode)
	fmt.Fprintf(s.runner.stdout, "%s in %s\n", summary, time.Since(started).Round(time.Second))
	for _, outcome := range summary.Outcomes {
		if outcome.Status != workflow.StatusSuccess {
			fmt.Fprintf(s.runner.stdout, "  %s: %s (%s)\n", outcome.Address, outcome.Status, outcome.Reason)
		}
	}
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.Long())
			return nil
		},
	}
}
