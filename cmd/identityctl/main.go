// Command identityctl is the operator tool of the identity service: manual
// merges and unmerges, conflict review, on-demand reputation aggregation and
// schema migrations.
//
// Settings come from the same environment variables as the services. A
// config file (--config) fills in what the environment leaves unset, and
// flags override both.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/alem-hub/academy-identity/config"
	"github.com/alem-hub/academy-identity/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// setting maps a viper key onto the environment variable config.Load reads.
type setting struct {
	key  string
	env  string
	flag string // empty when the setting has no flag
	list bool
}

var settings = []setting{
	{key: "app.env", env: "APP_ENV"},
	{key: "database.url", env: "DATABASE_URL", flag: "database-url"},
	{key: "redis.host", env: "REDIS_HOST", flag: "redis-host"},
	{key: "redis.port", env: "REDIS_PORT", flag: "redis-port"},
	{key: "redis.password", env: "REDIS_PASSWORD"},
	{key: "identity.hash_pepper", env: "IDENTITY_HASH_PEPPER"},
	{key: "kafka.enabled", env: "KAFKA_ENABLED"},
	{key: "kafka.brokers", env: "KAFKA_BROKERS", list: true},
	{key: "kafka.publish_events", env: "KAFKA_PUBLISH_EVENTS"},
	{key: "log.level", env: "LOG_LEVEL", flag: "log-level"},
	{key: "log.format", env: "LOG_FORMAT"},
}

type cli struct {
	v         *viper.Viper
	out       io.Writer
	cfgFile   string
	noPublish bool
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{v: viper.New(), out: out}

	root := &cobra.Command{
		Use:          "identityctl",
		Short:        "Operator tool for the identity service",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initConfig()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "Path to configuration file (yaml, toml or json)")
	flags.String("database-url", "", "PostgreSQL connection URL")
	flags.String("redis-host", "", "Redis host")
	flags.Int("redis-port", 0, "Redis port")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.BoolVar(&c.noPublish, "no-publish", false, "Keep domain events in process instead of forwarding them to Kafka")

	for _, s := range settings {
		c.bind(root, s)
	}

	root.AddCommand(
		c.mergeCmd(),
		c.unmergeCmd(),
		c.conflictsCmd(),
		c.aggregateCmd(),
		c.migrateCmd(),
	)
	return root
}

func (c *cli) bind(cmd *cobra.Command, s setting) {
	if err := c.v.BindEnv(s.key, s.env); err != nil {
		panic(err)
	}
	if s.flag == "" {
		return
	}
	if err := c.v.BindPFlag(s.key, cmd.PersistentFlags().Lookup(s.flag)); err != nil {
		panic(err)
	}
}

func (c *cli) initConfig() error {
	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
		if err := c.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return c.exportEnv()
}

// exportEnv writes every resolved setting back to the environment so that
// config.Load sees flag > env > file precedence.
func (c *cli) exportEnv() error {
	for _, s := range settings {
		if !c.v.IsSet(s.key) {
			continue
		}
		val := c.v.GetString(s.key)
		if s.list {
			val = strings.Join(c.v.GetStringSlice(s.key), ",")
		}
		if err := os.Setenv(s.env, val); err != nil {
			return fmt.Errorf("export %s: %w", s.env, err)
		}
	}
	return nil
}

// load reads the configuration. Logs go to stderr; stdout carries results.
func (c *cli) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, cfg.NewLoggerTo(os.Stderr), nil
}

// withHandlers opens the infrastructure, runs fn and closes everything again.
// Closing drains the event bus, so events of fn reach Kafka before exit.
func (c *cli) withHandlers(ctx context.Context, fn func(ctx context.Context, h *app.Handlers) error) (err error) {
	cfg, log, err := c.load()
	if err != nil {
		return err
	}

	opts := []app.OpenOption{app.WithoutMigrations()}
	if c.noPublish {
		opts = append(opts, app.WithoutPublishing())
	}
	infra, err := app.Open(ctx, cfg, log, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := infra.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()

	h, err := infra.Handlers()
	if err != nil {
		return err
	}
	return fn(ctx, h)
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
