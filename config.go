package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind             string
	defaultTimeLimit time.Duration
	maxGames         int
	maxPlayers       int
	port             int
	prefix           string
	profile          bool
	rateLimit        int
	rateWindow       time.Duration
	tlsCert          string
	tlsKey           string
	verbose          bool
	version          bool

	clock clockwork.Clock
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.maxGames < 1 {
		return fmt.Errorf("invalid max games (must be positive): %d", c.maxGames)
	}
	if c.maxPlayers < 1 {
		return fmt.Errorf("invalid max players (must be positive): %d", c.maxPlayers)
	}
	if c.rateLimit < 1 || c.rateWindow <= 0 {
		return errors.New("--rate-limit and --rate-window must be positive")
	}
	if c.defaultTimeLimit < minTimeLimit || c.defaultTimeLimit > maxTimeLimit {
		return fmt.Errorf("invalid default time limit (must be between %s and %s): %s", minTimeLimit, maxTimeLimit, c.defaultTimeLimit)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("NANOQUIZ")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "nanoquiz",
		Short:         "A live multiplayer quiz server: one host, many players, speed-based scoring.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			if cfg.verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			cfg.clock = clockwork.NewRealClock()
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: NANOQUIZ_BIND)")
	fs.DurationVar(&cfg.defaultTimeLimit, "default-time-limit", defaultTimeLimit, "fallback per-question time limit (env: NANOQUIZ_DEFAULT_TIME_LIMIT)")
	fs.IntVar(&cfg.maxGames, "max-games", 100, "maximum number of concurrent games (env: NANOQUIZ_MAX_GAMES)")
	fs.IntVar(&cfg.maxPlayers, "max-players", 100, "maximum number of players per game (env: NANOQUIZ_MAX_PLAYERS)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: NANOQUIZ_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: NANOQUIZ_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: NANOQUIZ_PROFILE)")
	fs.IntVar(&cfg.rateLimit, "rate-limit", 30, "events admitted per source within the rate window (env: NANOQUIZ_RATE_LIMIT)")
	fs.DurationVar(&cfg.rateWindow, "rate-window", 10*time.Second, "sliding window for per-source rate limiting (env: NANOQUIZ_RATE_WINDOW)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: NANOQUIZ_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: NANOQUIZ_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: NANOQUIZ_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: NANOQUIZ_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("nanoquiz v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
