/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/Seednode/newyear/internal/barrage"
)

const deadlineFormat = "2006-01-02T15:04:05"

type Config struct {
	adminHash       string
	bind            string
	contentFile     string
	corsOrigins     []string
	database        string
	deadline        string
	historySize     int
	messageCooldown time.Duration
	port            int
	prefix          string
	profile         bool
	redis           string
	redisPrefix     string
	tlsCert         string
	tlsKey          string
	verbose         bool
	version         bool

	barrage barrage.Params
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.historySize < 0 {
		return fmt.Errorf("invalid history size (must be non-negative): %d", c.historySize)
	}
	if c.messageCooldown < 0 {
		return fmt.Errorf("invalid message cooldown (must be non-negative): %s", c.messageCooldown)
	}
	if _, err := c.deadlineTime(); err != nil {
		return fmt.Errorf("invalid --deadline: %w", err)
	}
	if c.adminHash != "" {
		if _, err := bcrypt.Cost([]byte(c.adminHash)); err != nil {
			return fmt.Errorf("invalid --admin-hash: %w", err)
		}
	}
	if c.redis != "" && !strings.HasPrefix(c.redis, "redis://") && !strings.HasPrefix(c.redis, "rediss://") {
		return fmt.Errorf("invalid --redis (must start with redis:// or rediss://): %s", c.redis)
	}
	if err := c.barrage.Validate(); err != nil {
		return fmt.Errorf("invalid barrage settings: %w", err)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// deadlineTime parses the countdown target in the local time zone, unless
// it carries an offset of its own. An empty deadline means the coming
// new year's midnight.
func (c *Config) deadlineTime() (time.Time, error) {
	if c.deadline == "" {
		return time.Date(time.Now().Year()+1, time.January, 1, 0, 0, 0, 0, time.Local), nil
	}
	if t, err := time.Parse(time.RFC3339, c.deadline); err == nil {
		return t, nil
	}
	return time.ParseInLocation(deadlineFormat, c.deadline, time.Local)
}

func newCmd(cfg *Config) *cobra.Command {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("NEWYEAR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "newyear",
		Short:         "A new year's eve party page with a live wishing wall and lottery.",
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

	defaults := barrage.DefaultParams()

	fs.StringVar(&cfg.adminHash, "admin-hash", "", "bcrypt hash of the key required for draw, reset and playlist edits (env: NEWYEAR_ADMIN_HASH)")
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: NEWYEAR_BIND)")
	fs.StringVar(&cfg.contentFile, "content", "", "path to a yaml file overriding the page content (env: NEWYEAR_CONTENT)")
	fs.StringSliceVar(&cfg.corsOrigins, "cors-origins", nil, "origins allowed to call the json api (env: NEWYEAR_CORS_ORIGINS)")
	fs.StringVar(&cfg.database, "database", "", "database to use, as sqlite:<path> or postgres://... (env: NEWYEAR_DATABASE)")
	fs.StringVar(&cfg.deadline, "deadline", "", "lottery sign-up deadline, defaults to the coming new year (env: NEWYEAR_DEADLINE)")
	fs.IntVar(&cfg.historySize, "history", 30, "stored messages to load onto the wall at startup (env: NEWYEAR_HISTORY)")
	fs.DurationVar(&cfg.messageCooldown, "message-cooldown", time.Second, "minimum time between wishes from one device (env: NEWYEAR_MESSAGE_COOLDOWN)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: NEWYEAR_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: NEWYEAR_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: NEWYEAR_PROFILE)")
	fs.StringVar(&cfg.redis, "redis", "", "redis url for sharing the change feed between instances (env: NEWYEAR_REDIS)")
	fs.StringVar(&cfg.redisPrefix, "redis-prefix", "newyear", "prefix for redis channel names (env: NEWYEAR_REDIS_PREFIX)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: NEWYEAR_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: NEWYEAR_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: NEWYEAR_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: NEWYEAR_VERSION)")

	fs.IntVar(&cfg.barrage.MaxBubbles, "max-bubbles", defaults.MaxBubbles, "maximum bubbles on the wall at once (env: NEWYEAR_MAX_BUBBLES)")
	fs.Float64Var(&cfg.barrage.ConflictDistance, "conflict-distance", defaults.ConflictDistance, "minimum weighted distance between bubbles (env: NEWYEAR_CONFLICT_DISTANCE)")
	fs.Float64Var(&cfg.barrage.VerticalWeight, "vertical-weight", defaults.VerticalWeight, "weight of vertical distance in conflict checks (env: NEWYEAR_VERTICAL_WEIGHT)")
	fs.Float64Var(&cfg.barrage.Jitter, "jitter", defaults.Jitter, "width of the random offset applied to zone centers (env: NEWYEAR_JITTER)")
	fs.DurationVar(&cfg.barrage.MinDuration, "min-duration", defaults.MinDuration, "shortest time a bubble stays up (env: NEWYEAR_MIN_DURATION)")
	fs.DurationVar(&cfg.barrage.MaxDuration, "max-duration", defaults.MaxDuration, "longest time a bubble stays up (env: NEWYEAR_MAX_DURATION)")
	fs.DurationVar(&cfg.barrage.MinCooldown, "min-cooldown", defaults.MinCooldown, "shortest wait before a zone is reused (env: NEWYEAR_MIN_COOLDOWN)")
	fs.DurationVar(&cfg.barrage.MaxCooldown, "max-cooldown", defaults.MaxCooldown, "longest wait before a zone is reused (env: NEWYEAR_MAX_COOLDOWN)")
	fs.DurationVar(&cfg.barrage.MinInterval, "min-interval", defaults.MinInterval, "shortest wait between spawn attempts (env: NEWYEAR_MIN_INTERVAL)")
	fs.DurationVar(&cfg.barrage.MaxInterval, "max-interval", defaults.MaxInterval, "longest wait between spawn attempts (env: NEWYEAR_MAX_INTERVAL)")
	fs.IntVar(&cfg.barrage.PoolSize, "pool-size", defaults.PoolSize, "posted messages kept as candidates (env: NEWYEAR_POOL_SIZE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("newyear v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
