package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DisconnectPolicy decides what happens to a player who drops mid-game and
// does not reconnect within the player timeout.
type DisconnectPolicy string

const (
	// DisconnectWait keeps the seat; the game blocks on their turn until
	// they reconnect or the room is reaped.
	DisconnectWait DisconnectPolicy = "wait"

	// DisconnectEliminate removes the seat from play after the grace period,
	// exactly as if the room had voted them out.
	DisconnectEliminate DisconnectPolicy = "eliminate"
)

type Config struct {
	bind             string
	disconnectPolicy string
	playerTimeout    time.Duration
	port             int
	prefix           string
	profile          bool
	sessionTimeout   time.Duration
	tlsCert          string
	tlsKey           string
	verbose          bool
	version          bool
	wordList         string
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	switch DisconnectPolicy(c.disconnectPolicy) {
	case DisconnectWait, DisconnectEliminate:
	default:
		return fmt.Errorf("invalid disconnect policy (must be %q or %q): %q",
			DisconnectWait, DisconnectEliminate, c.disconnectPolicy)
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
	v.SetEnvPrefix("UNDERCOVER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "undercover",
		Short:         "A social deduction word game, served as a single self-contained webapp.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: UNDERCOVER_BIND)")
	fs.StringVar(&cfg.disconnectPolicy, "disconnect-policy", string(DisconnectWait), "what to do with players who drop mid-game, either \"wait\" or \"eliminate\" (env: UNDERCOVER_DISCONNECT_POLICY)")
	fs.DurationVar(&cfg.playerTimeout, "player-timeout", 2*time.Minute, "grace period before disconnected players are dropped (env: UNDERCOVER_PLAYER_TIMEOUT)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: UNDERCOVER_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: UNDERCOVER_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: UNDERCOVER_PROFILE)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle rooms are ended (env: UNDERCOVER_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: UNDERCOVER_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: UNDERCOVER_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: UNDERCOVER_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: UNDERCOVER_VERSION)")
	fs.StringVar(&cfg.wordList, "word-list", "", "path to a yaml file of custom word pairs (env: UNDERCOVER_WORD_LIST)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("undercover v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
