package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quantfold/ibot/bot"
	"github.com/quantfold/ibot/broker"
	"github.com/quantfold/ibot/config"
	"github.com/quantfold/ibot/journal"
	"github.com/quantfold/ibot/marketdata"
	"github.com/quantfold/ibot/marketdata/yahoo"
	"github.com/quantfold/ibot/orders"
	"github.com/quantfold/ibot/risk"
	"github.com/quantfold/ibot/strategies"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the trading bot",
	Long: `Connect to the gateway and run the trading loop until
interrupted. Without a config file, defaults plus environment
overrides apply.

Examples:
  ibot run
  ibot run -f ibot.yaml
  ENABLE_TRADING=true ibot run -f ibot.yaml`,
	RunE: runRun,
}

var (
	runConfigPath string
	runDebug      bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to config file (YAML or JSON)")
	runCmd.Flags().BoolVar(&runDebug, "debug", false, "verbose development logging")
}

func runRun(cmd *cobra.Command, args []string) error {
	log, err := newLogger(runDebug)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	var cfg *config.Config
	if runConfigPath != "" {
		cfg, err = config.LoadFromFile(runConfigPath)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.Info("configuration loaded", zap.String("summary", cfg.Summary()))

	jnl, err := newJournal(cfg.Journal)
	if err != nil {
		return fmt.Errorf("create journal: %w", err)
	}
	defer jnl.Close()

	gw, err := buildGateway(log, cfg.Trading)
	if err != nil {
		return err
	}
	sup := broker.NewSupervisor(log, gw, cfg.Connection.Host, cfg.Connection.Port, cfg.Connection.ClientID)

	ttl, err := cfg.MarketData.ParseCacheTTL()
	if err != nil {
		return fmt.Errorf("cache ttl: %w", err)
	}
	providers, err := buildProviders(cfg.MarketData, cfg.Connection, sup)
	if err != nil {
		return err
	}
	hub := marketdata.NewHub(log, ttl, providers...)

	gate := risk.NewGate(log, risk.Limits{
		MaxPositionValue: cfg.Trading.MaxPositionValue,
		MaxPositions:     cfg.Trading.MaxPositions,
		MaxDailyLoss:     cfg.Trading.MaxDailyLoss,
		MaxOrderValue:    cfg.Trading.MaxOrderValue,
	}, cfg.Trading.OrderType)
	exec := orders.NewExecutor(log, gw, gate, jnl)

	runner := strategies.NewRunner(log)
	for _, sc := range cfg.Strategies {
		s, err := strategies.FromConfig(sc)
		if err != nil {
			return fmt.Errorf("strategy %q: %w", sc.Name, err)
		}
		runner.Register(s)
	}

	b, err := bot.New(log, cfg, hub, sup, gate, exec, runner, jnl)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := b.Run(ctx); err != nil {
		return fmt.Errorf("bot: %w", err)
	}
	return nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newJournal(cfg config.JournalConfig) (journal.Journal, error) {
	switch cfg.Type {
	case "csv":
		return journal.NewCSV(cfg.OrdersFile, cfg.FillsFile)
	case "sqlite":
		return journal.NewSQLite(cfg.DBPath)
	default:
		return journal.Nop{}, nil
	}
}

func buildProviders(cfg config.MarketDataConfig, conn config.ConnectionConfig, session marketdata.GatewaySession) ([]marketdata.Provider, error) {
	names := append([]string{cfg.Primary}, cfg.Fallbacks...)
	out := make([]marketdata.Provider, 0, len(names))
	for _, name := range names {
		switch name {
		case "ibkr":
			out = append(out, marketdata.NewGatewayProvider(session, conn.DelayedData))
		case "yahoo":
			out = append(out, yahoo.New())
		case "sim":
			out = append(out, marketdata.NewSimProvider(100))
		default:
			return nil, fmt.Errorf("unknown market data provider: %s", name)
		}
	}
	return out, nil
}

func buildGateway(log *zap.Logger, cfg config.TradingConfig) (broker.Gateway, error) {
	if cfg.Paper {
		return broker.NewPaperGateway(log), nil
	}
	// The live TWS API client is not wired in yet; refusing is safer
	// than pretending.
	return nil, fmt.Errorf("live trading gateway not configured, set trading.paper: true")
}
