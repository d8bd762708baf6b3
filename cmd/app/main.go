// Command chainpulse polls NSE option chains, stores a rolling window of snapshots and
// reports directional verdicts.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ChainPulse/internal/di"
	"ChainPulse/internal/domain/fault"
	"ChainPulse/pkg/config"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	exitOK     = 0
	exitInit   = 1
	exitConfig = 2
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the command line and maps the outcome to an exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return exitCode(err)
	}
	return exitOK
}

func exitCode(err error) int {
	if fault.IsKind(err, fault.KindConfig) {
		return exitConfig
	}
	return exitInit
}

type rootFlags struct {
	configPath string
	envFile    string
	events     bool
}

func (f *rootFlags) load() (*config.Config, error) {
	return config.LoadWithEnv(f.configPath, f.envFile)
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "chainpulse",
		Short:         "ChainPulse - NSE option chain observatory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "config/config.yaml", "config file path")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file with credentials")
	root.PersistentFlags().BoolVar(&flags.events, "events", false, "print NDJSON cycle events to stdout")

	root.AddCommand(
		newRunCmd(flags, stdout),
		newOnceCmd(flags, stdout),
		newValidateCmd(flags, stdout),
		newTailCmd(flags, stdout),
		newVersionCmd(stdout),
	)
	return root
}

func newRunCmd(flags *rootFlags, stdout io.Writer) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run fetch cycles, looping when enable_loop_fetching is set",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApp(cmd.Context(), flags, stdout, once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single cycle and exit")
	return cmd
}

func newOnceCmd(flags *rootFlags, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run exactly one fetch cycle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApp(cmd.Context(), flags, stdout, true)
		},
	}
}

func runApp(ctx context.Context, flags *rootFlags, stdout io.Writer, once bool) error {
	cfg, err := flags.load()
	if err != nil {
		return err
	}
	app, cleanup, err := di.InitializeApp(cfg, di.Options{Events: flags.events, Out: stdout})
	if err != nil {
		return err
	}
	defer cleanup()
	if ctx == nil {
		ctx = context.Background()
	}
	return app.Run(ctx, once)
}

func newValidateCmd(flags *rootFlags, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration, then exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "config OK: env=%s symbols=%s,%s stocks=%d loop=%t interval=%s\n",
				cfg.Environment, cfg.Fetch.SymbolIndex, cfg.Fetch.SymbolBankNifty, len(cfg.TopStocks),
				cfg.Fetch.EnableLoopFetching, cfg.Fetch.Interval())
			return nil
		},
	}
}

func newTailCmd(flags *rootFlags, stdout io.Writer) *cobra.Command {
	var fromBeginning bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print event-bus messages as NDJSON until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			consumer, err := di.InitializeTail(cfg, di.Options{FromBeginning: fromBeginning, Out: stdout})
			if err != nil {
				return err
			}
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := consumer.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()

			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := consumer.Stop(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromBeginning, "from-beginning", false, "start from the earliest retained offset")
	return cmd
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(stdout, "chainpulse %s\n  commit:  %s\n  built:   %s\n", version, commit, date)
		},
	}
}
