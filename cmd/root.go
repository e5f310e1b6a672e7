package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"isoflow/internal/banner"
	"isoflow/internal/cli"
	"isoflow/internal/config"
	"isoflow/internal/dummy"
	"isoflow/internal/loadspec"
	"isoflow/internal/logger"
	"isoflow/internal/metrics"
	"isoflow/internal/render"
	"isoflow/internal/storage"
	"isoflow/internal/traffic"
	"isoflow/internal/tui/app"
)

var errRunFailed = errors.New("one or more flows failed")

var (
	cfgFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "isoflow",
	Short: "isoflow - isochronous traffic experiments",
	Long: `
isoflow runs an isochronous measurement flow, optionally alongside a
stress flow, against a device under test and writes the latency and
frame histograms of every completed flow.

It supports two modes:
1. CLI Mode (Default): progress and summary on the console
2. TUI Mode (--tui): interactive terminal UI with run history`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

func Execute() {
	// Custom Help with Banner
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Println(banner.GetString())
		cmd.Usage()
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(historyCmd)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.isoflow.yaml)")
	rootCmd.PersistentFlags().String("history", "", "run history database (default is $HOME/.isoflow/history.db)")
	rootCmd.PersistentFlags().String("loglevel", "info", "log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().String("logformat", "console", "log format: console or json")

	f := rootCmd.Flags()
	f.StringP("server", "s", "", "host running the measurement flow server")
	f.StringP("client", "c", "localhost", "host running the measurement flow client")
	f.StringP("dst", "d", "", "destination address the measurement client sends to")
	f.Float64P("interval", "i", 0, "report interval in seconds, 0 disables interval reports")
	f.Float64P("time", "t", 10, "flow duration in seconds")
	f.StringP("offered_load", "O", loadspec.Default, "isochronous load as <fps>:<mean>,<stdev>")
	f.StringP("title", "T", "", "title used in histogram output")
	f.StringP("tos", "S", "BE", "traffic class of the measurement flow: BE, BK, VI, VO")
	f.StringP("output_directory", "o", "./data", "directory for the log and histogram files")
	f.String("ssh_user", "", "ssh user for the measurement flow hosts")

	f.String("stress_server", "", "host running the stress flow server")
	f.String("stress_client", "", "host running the stress flow client")
	f.String("stress_dst", "", "destination address the stress client sends to")
	f.String("stress_proto", "TCP", "stress flow protocol: TCP or UDP")
	f.String("stress_offered_load", loadspec.DefaultStress, "stress flow offered load, e.g. 20M or an isochronous spec")
	f.String("stress_tos", "BE", "traffic class of the stress flow")
	f.String("stress_user", "root", "ssh user for the stress flow hosts")

	f.String("iperf", "iperf", "traffic tool binary")
	f.Duration("ready_timeout", 5*time.Second, "how long to wait for a flow server to listen")
	f.Duration("deadline_grace", 3*time.Second, "slack after the flow duration before flows are terminated, 0 ends the run at start + duration")
	f.Bool("dry-run", false, "simulate flows in-process instead of launching the traffic tool")
	f.Bool("tui", false, "run the interactive terminal UI")
	f.String("metrics_addr", "", "serve Prometheus metrics on this address, e.g. :9090")

	// Flags override the config file and environment only when set.
	bindFlags(f)
	bindFlags(rootCmd.PersistentFlags())
}

func bindFlags(fs *pflag.FlagSet) {
	fs.VisitAll(func(fl *pflag.Flag) {
		if fl.Name == "config" {
			return
		}
		if err := v.BindPFlag(strings.ReplaceAll(fl.Name, "-", "_"), fl); err != nil {
			panic(err)
		}
	})
}

func loadConfig() (config.Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
		v.SetConfigType("yaml")
		v.SetConfigName(".isoflow")
	}
	return config.Load(v)
}

func openStore(cfg config.Config) (*storage.Store, error) {
	path := cfg.History
	if path == "" {
		var err error
		if path, err = storage.DefaultPath(); err != nil {
			return nil, err
		}
	}
	return storage.NewStore(path)
}

func launcher(cfg config.Config) traffic.Launcher {
	if cfg.DryRun {
		return &dummy.Launcher{Profile: dummy.Medium}
	}
	ip := traffic.NewIperf(cfg.Iperf)
	ip.ReadyTimeout = cfg.ReadyTimeout
	return ip
}

func run(ctx context.Context, cfg config.Config) error {
	if err := os.MkdirAll(cfg.OutputDirectory, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	// The TUI owns the terminal, so its log goes to the file only.
	var console io.Writer = os.Stderr
	if cfg.TUI {
		console = io.Discard
	} else {
		fmt.Printf("Writing log to %s\n", cfg.LogFile())
	}
	closer, err := logger.InitTo(console, cfg.Logging, cfg.LogFile())
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer closer.Close()

	deps := cli.Deps{
		Launcher: launcher(cfg),
		Renderer: render.NewDataRenderer(),
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("run history disabled")
	} else {
		defer store.Close()
		deps.Store = store
	}

	if cfg.MetricsAddr != "" {
		m := metrics.New()
		deps.Observer = m
		go func() {
			if err := m.Serve(ctx, cfg.MetricsAddr); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	if cfg.TUI {
		p := tea.NewProgram(app.NewModel(cfg, deps), tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return fmt.Errorf("error running isoflow: %w", err)
		}
		return nil
	}

	res, err := cli.Start(ctx, cfg, deps)
	if err != nil {
		return err
	}
	if !res.OK() {
		return errRunFailed
	}
	return nil
}
