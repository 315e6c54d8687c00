package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type GlobalFlags struct {
	ConfigPath string
	DataDir    string
	RangeStart int
	RangeEnd   int
	LogLevel   string
	LogJSON    bool
}

// Settings is the fully resolved, read-only runtime configuration. It is
// built once at startup and passed down explicitly; nothing reads it through
// a global.
type Settings struct {
	DataDir          string
	WalletStorePath  string
	WalletLockPath   string
	PrivateKeysPath  string
	ProxiesPath      string
	ReserveProxyPath string

	LogLevel string
	LogJSON  bool

	// Wallet scheduling.
	RangeStart      int
	RangeEnd        int
	StartupDelayMin time.Duration
	StartupDelayMax time.Duration
	SwapDelayMin    time.Duration
	SwapDelayMax    time.Duration

	// Bridge behaviour.
	UseBase          bool
	UseArbitrum      bool
	UseOptimism      bool
	BridgeFraction   float64
	FundedThreshold  float64 // native PLUME units on the destination
	MinSourceFloor   float64 // native ETH units a source chain must hold
	BridgeBackoffMax time.Duration

	// Arrival polling.
	ArrivalPollInterval time.Duration
	// ArrivalMaxWait bounds the destination-balance poll. Zero keeps the
	// historical unbounded behaviour, which is a known liveness risk left
	// to the operator.
	ArrivalMaxWait time.Duration

	// Swap loop.
	SwapTargetNonce uint64
	WrapFractionMin float64
	WrapFractionMax float64

	// Proxy health.
	AutoReplace      bool
	MaxProxyFailures int
	ReplaceCooldown  time.Duration

	// Chain I/O.
	RPCTimeout      time.Duration
	ReceiptTimeout  time.Duration
	ReceiptInterval time.Duration
	ErrorDelayMin   time.Duration
	ErrorDelayMax   time.Duration
	HTTPRetries     int
}

type fileConfig struct {
	Log struct {
		Level string `yaml:"level"`
		JSON  *bool  `yaml:"json"`
	} `yaml:"log"`
	Wallets struct {
		Range struct {
			Start *int `yaml:"start"`
			End   *int `yaml:"end"`
		} `yaml:"range"`
		StartupDelay struct {
			Min string `yaml:"min"`
			Max string `yaml:"max"`
		} `yaml:"startup_delay"`
		SwapDelay struct {
			Min string `yaml:"min"`
			Max string `yaml:"max"`
		} `yaml:"swap_delay"`
	} `yaml:"wallets"`
	Bridge struct {
		UseBase         *bool    `yaml:"use_base"`
		UseArbitrum     *bool    `yaml:"use_arbitrum"`
		UseOptimism     *bool    `yaml:"use_optimism"`
		Fraction        *float64 `yaml:"fraction"`
		FundedThreshold *float64 `yaml:"funded_threshold"`
		MinSourceFloor  *float64 `yaml:"min_source_floor"`
		BackoffMax      string   `yaml:"backoff_max"`
	} `yaml:"bridge"`
	Arrival struct {
		PollInterval string `yaml:"poll_interval"`
		MaxWait      string `yaml:"max_wait"`
	} `yaml:"arrival"`
	Swap struct {
		TargetNonce     *uint64  `yaml:"target_nonce"`
		WrapFractionMin *float64 `yaml:"wrap_fraction_min"`
		WrapFractionMax *float64 `yaml:"wrap_fraction_max"`
	} `yaml:"swap"`
	Resources struct {
		AutoReplace     *bool  `yaml:"auto_replace"`
		MaxFailures     *int   `yaml:"max_failures"`
		ReplaceCooldown string `yaml:"replace_cooldown"`
	} `yaml:"resources"`
	RPC struct {
		Timeout         string `yaml:"timeout"`
		ReceiptTimeout  string `yaml:"receipt_timeout"`
		ReceiptInterval string `yaml:"receipt_interval"`
		ErrorDelayMin   string `yaml:"error_delay_min"`
		ErrorDelayMax   string `yaml:"error_delay_max"`
		HTTPRetries     *int   `yaml:"http_retries"`
	} `yaml:"rpc"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings(flags.DataDir)
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath, settings.DataDir)
	if err != nil {
		return Settings{}, err
	}
	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}
	applyEnv(&settings)
	applyFlags(flags, &settings)

	if settings.StartupDelayMax < settings.StartupDelayMin {
		return Settings{}, fmt.Errorf("wallets.startup_delay: max %v below min %v", settings.StartupDelayMax, settings.StartupDelayMin)
	}
	if settings.SwapDelayMax < settings.SwapDelayMin {
		return Settings{}, fmt.Errorf("wallets.swap_delay: max %v below min %v", settings.SwapDelayMax, settings.SwapDelayMin)
	}
	if settings.BridgeFraction <= 0 || settings.BridgeFraction >= 1 {
		return Settings{}, fmt.Errorf("bridge.fraction must be in (0, 1), got %v", settings.BridgeFraction)
	}
	if settings.WrapFractionMin <= 0 || settings.WrapFractionMax > 1 || settings.WrapFractionMax < settings.WrapFractionMin {
		return Settings{}, fmt.Errorf("swap.wrap_fraction bounds invalid: [%v, %v]", settings.WrapFractionMin, settings.WrapFractionMax)
	}
	if settings.MaxProxyFailures <= 0 {
		settings.MaxProxyFailures = 3
	}
	if settings.RangeStart < 0 {
		settings.RangeStart = 0
	}

	return settings, nil
}

func defaultSettings(dataDir string) (Settings, error) {
	dir, err := resolveDataDir(dataDir)
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		DataDir:          dir,
		WalletStorePath:  filepath.Join(dir, "wallets.db"),
		WalletLockPath:   filepath.Join(dir, "wallets.lock"),
		PrivateKeysPath:  filepath.Join(dir, "private.txt"),
		ProxiesPath:      filepath.Join(dir, "proxy.txt"),
		ReserveProxyPath: filepath.Join(dir, "reserve_proxy.txt"),

		LogLevel: "info",

		StartupDelayMin: 5 * time.Second,
		StartupDelayMax: 15 * time.Second,
		SwapDelayMin:    0,
		SwapDelayMax:    30 * time.Second,

		UseBase:          true,
		UseArbitrum:      true,
		UseOptimism:      true,
		BridgeFraction:   0.95,
		FundedThreshold:  5,
		MinSourceFloor:   0.0008,
		BridgeBackoffMax: 30 * time.Second,

		ArrivalPollInterval: 5 * time.Second,
		ArrivalMaxWait:      0,

		SwapTargetNonce: 400,
		WrapFractionMin: 0.3,
		WrapFractionMax: 0.5,

		AutoReplace:      true,
		MaxProxyFailures: 3,
		ReplaceCooldown:  120 * time.Second,

		RPCTimeout:      30 * time.Second,
		ReceiptTimeout:  3 * time.Minute,
		ReceiptInterval: 2 * time.Second,
		ErrorDelayMin:   2 * time.Second,
		ErrorDelayMax:   3 * time.Second,
		HTTPRetries:     2,
	}, nil
}

func resolveDataDir(input string) (string, error) {
	if input != "" {
		return input, nil
	}
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "plume-runner"), nil
}

func resolveConfigPath(input, dataDir string) (string, error) {
	if input != "" {
		return input, nil
	}
	return filepath.Join(dataDir, "config.yaml"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Log.Level != "" {
		settings.LogLevel = cfg.Log.Level
	}
	if cfg.Log.JSON != nil {
		settings.LogJSON = *cfg.Log.JSON
	}
	if cfg.Wallets.Range.Start != nil {
		settings.RangeStart = *cfg.Wallets.Range.Start
	}
	if cfg.Wallets.Range.End != nil {
		settings.RangeEnd = *cfg.Wallets.Range.End
	}
	if err := setDuration(&settings.StartupDelayMin, cfg.Wallets.StartupDelay.Min, "wallets.startup_delay.min"); err != nil {
		return err
	}
	if err := setDuration(&settings.StartupDelayMax, cfg.Wallets.StartupDelay.Max, "wallets.startup_delay.max"); err != nil {
		return err
	}
	if err := setDuration(&settings.SwapDelayMin, cfg.Wallets.SwapDelay.Min, "wallets.swap_delay.min"); err != nil {
		return err
	}
	if err := setDuration(&settings.SwapDelayMax, cfg.Wallets.SwapDelay.Max, "wallets.swap_delay.max"); err != nil {
		return err
	}
	if cfg.Bridge.UseBase != nil {
		settings.UseBase = *cfg.Bridge.UseBase
	}
	if cfg.Bridge.UseArbitrum != nil {
		settings.UseArbitrum = *cfg.Bridge.UseArbitrum
	}
	if cfg.Bridge.UseOptimism != nil {
		settings.UseOptimism = *cfg.Bridge.UseOptimism
	}
	if cfg.Bridge.Fraction != nil {
		settings.BridgeFraction = *cfg.Bridge.Fraction
	}
	if cfg.Bridge.FundedThreshold != nil {
		settings.FundedThreshold = *cfg.Bridge.FundedThreshold
	}
	if cfg.Bridge.MinSourceFloor != nil {
		settings.MinSourceFloor = *cfg.Bridge.MinSourceFloor
	}
	if err := setDuration(&settings.BridgeBackoffMax, cfg.Bridge.BackoffMax, "bridge.backoff_max"); err != nil {
		return err
	}
	if err := setDuration(&settings.ArrivalPollInterval, cfg.Arrival.PollInterval, "arrival.poll_interval"); err != nil {
		return err
	}
	if err := setDuration(&settings.ArrivalMaxWait, cfg.Arrival.MaxWait, "arrival.max_wait"); err != nil {
		return err
	}
	if cfg.Swap.TargetNonce != nil {
		settings.SwapTargetNonce = *cfg.Swap.TargetNonce
	}
	if cfg.Swap.WrapFractionMin != nil {
		settings.WrapFractionMin = *cfg.Swap.WrapFractionMin
	}
	if cfg.Swap.WrapFractionMax != nil {
		settings.WrapFractionMax = *cfg.Swap.WrapFractionMax
	}
	if cfg.Resources.AutoReplace != nil {
		settings.AutoReplace = *cfg.Resources.AutoReplace
	}
	if cfg.Resources.MaxFailures != nil {
		settings.MaxProxyFailures = *cfg.Resources.MaxFailures
	}
	if err := setDuration(&settings.ReplaceCooldown, cfg.Resources.ReplaceCooldown, "resources.replace_cooldown"); err != nil {
		return err
	}
	if err := setDuration(&settings.RPCTimeout, cfg.RPC.Timeout, "rpc.timeout"); err != nil {
		return err
	}
	if err := setDuration(&settings.ReceiptTimeout, cfg.RPC.ReceiptTimeout, "rpc.receipt_timeout"); err != nil {
		return err
	}
	if err := setDuration(&settings.ReceiptInterval, cfg.RPC.ReceiptInterval, "rpc.receipt_interval"); err != nil {
		return err
	}
	if err := setDuration(&settings.ErrorDelayMin, cfg.RPC.ErrorDelayMin, "rpc.error_delay_min"); err != nil {
		return err
	}
	if err := setDuration(&settings.ErrorDelayMax, cfg.RPC.ErrorDelayMax, "rpc.error_delay_max"); err != nil {
		return err
	}
	if cfg.RPC.HTTPRetries != nil {
		settings.HTTPRetries = *cfg.RPC.HTTPRetries
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("PLUME_LOG_LEVEL"); v != "" {
		settings.LogLevel = v
	}
	if v := os.Getenv("PLUME_LOG_JSON"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.LogJSON = b
		}
	}
	if v := os.Getenv("PLUME_AUTO_REPLACE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.AutoReplace = b
		}
	}
	if v := os.Getenv("PLUME_MAX_PROXY_FAILURES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.MaxProxyFailures = n
		}
	}
	if v := os.Getenv("PLUME_SWAP_TARGET_NONCE"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			settings.SwapTargetNonce = n
		}
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) {
	if flags.RangeStart >= 0 {
		settings.RangeStart = flags.RangeStart
	}
	if flags.RangeEnd > 0 {
		settings.RangeEnd = flags.RangeEnd
	}
	if flags.LogLevel != "" {
		settings.LogLevel = flags.LogLevel
	}
	if flags.LogJSON {
		settings.LogJSON = true
	}
}

func setDuration(dst *time.Duration, raw, field string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config %s: %w", field, err)
	}
	if d < 0 {
		return fmt.Errorf("config %s: negative duration", field)
	}
	*dst = d
	return nil
}
