package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xoelrdgz/logsift/internal/adapters/input"
	"github.com/xoelrdgz/logsift/internal/adapters/storage"
	"github.com/xoelrdgz/logsift/internal/app"
)

var (
	cfgFile   string
	configErr error
	cfg       *app.Config

	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// flagKeys maps each command's flags to config keys. Several commands share a
// flag name for the same key, so binding happens for the running command only.
var flagKeys = map[string]map[string]string{
	"analyze": {
		"format":      "parser.format",
		"pattern":     "parser.pattern",
		"blacklist":   "blacklist.path",
		"session-key": "detection.session.key",
	},
	"serve": {
		"addr":      "server.addr",
		"store":     "store.path",
		"workers":   "workers.count",
		"blacklist": "blacklist.path",
	},
}

var rootCmd = &cobra.Command{
	Use:   "logsift",
	Short: "Access-log anomaly and session analysis",
	Long: `logsift parses web-server access logs and reports operational
anomalies and security indicators found in them.

Detection Capabilities:
  - Volumetric outliers and bot-like clients
  - Blacklisted addresses, scanner user agents, sensitive path probing
  - Request bursts and per-client sessions with endpoint ranking
  - Status, method, traffic and error-path distributions

Run "logsift analyze" on a file for a one-off report, or "logsift serve"
to accept uploads over HTTP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configErr != nil {
			return configErr
		}
		for name, key := range flagKeys[cmd.Name()] {
			if err := viper.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
				return fmt.Errorf("bind --%s: %w", name, err)
			}
		}
		loaded, err := app.LoadConfig(viper.GetViper())
		if err != nil {
			return err
		}
		cfg = loaded
		setupLogging(cfg.Logging)
		if used := viper.ConfigFileUsed(); used != "" {
			log.Debug().Str("config", used).Msg("Configuration loaded")
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("logsift %s\n", Version)
		fmt.Printf("Commit:  %s\n", Commit)
		fmt.Printf("Built:   %s\n", BuildTime)
	},
}

var geoCmd = &cobra.Command{
	Use:   "geo",
	Short: "Manage the geolocation cache",
}

var geoImportCmd = &cobra.Command{
	Use:   "import <cache.json>",
	Short: "Import an ip-api style JSON cache into the geolocation store",
	Long: `Import reads a JSON object mapping IP addresses to ip-api responses
and writes every entry into the bbolt store at geo.db_path.

Examples:
  logsift geo import ./ip_cache.json
  logsift geo import ./ip_cache.json --geo-db ./data/geo.db`,
	Args: cobra.ExactArgs(1),
	RunE: runGeoImport,
}

var demoLines int

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Write synthetic access-log lines to stdout",
	Long: `Demo writes a deterministic combined-format log with normal traffic,
scanner requests and one request burst. Pipe it into analyze to try the
detectors without real logs.

Examples:
  logsift demo --lines 5000 > sample.log
  logsift demo | logsift analyze -`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return input.NewDemoGenerator(input.DefaultDemoConfig()).WriteTo(cmd.OutOrStdout(), demoLines)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./configs/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("geo-db", "", "geolocation cache database (bbolt)")
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("geo.db_path", rootCmd.PersistentFlags().Lookup("geo-db"))

	demoCmd.Flags().IntVarP(&demoLines, "lines", "n", 2000, "number of lines to generate")

	geoCmd.AddCommand(geoImportCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(geoCmd)
	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	configErr = app.ConfigureViper(viper.GetViper(), cfgFile)
}

func setupLogging(lc app.LoggingConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	switch lc.Level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	var out io.Writer = os.Stderr
	if lc.File != "" {
		out = &lumberjack.Logger{
			Filename:   lc.File,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}
	}

	if lc.Format == "json" {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "15:04:05",
		NoColor:    lc.File != "",
	})
}

func runGeoImport(cmd *cobra.Command, args []string) error {
	geoCfg := storage.DefaultGeoCacheConfig()
	if cfg.Geo.DBPath != "" {
		geoCfg.DBPath = cfg.Geo.DBPath
	}

	cache, err := storage.OpenGeoCache(geoCfg)
	if err != nil {
		return err
	}
	defer cache.Close()

	n, err := cache.ImportFile(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	log.Info().Int("imported", n).Int("total", cache.Len()).Str("db", geoCfg.DBPath).Msg("Geolocation cache updated")
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d entries into %s (%d total)\n", n, geoCfg.DBPath, cache.Len())
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
