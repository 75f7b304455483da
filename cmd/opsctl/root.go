package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/autolinehq/autoline-be/internal/config"
	"github.com/autolinehq/autoline-be/shared/logger"
	"github.com/autolinehq/autoline-be/shared/postgresql"
	sharedredis "github.com/autolinehq/autoline-be/shared/redis"
)

// app carries the lazily-built clients shared by all subcommands. Commands
// only open the connections they actually use: dlq commands never touch the
// database, media commands never touch Redis.
type app struct {
	configPath string

	cfg    *config.Config
	logger *logger.Logger
	redis  *sharedredis.Client
	db     *postgresql.Client
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "opsctl",
		Short:         "Operations CLI for the messaging backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	defaultConfigPath := os.Getenv("OPSCTL_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", defaultConfigPath, "Path to configuration file")

	root.AddCommand(newDLQCmd(a))
	root.AddCommand(newEnqueueCmd(a))
	root.AddCommand(newMediaCmd(a))

	return root
}

func (a *app) init() error {
	_ = godotenv.Load()

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.cfg = cfg

	// Keep client-library chatter off the command output.
	a.logger, err = logger.New(&logger.Config{
		Level:  "error",
		Format: "console",
		Output: "stderr",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

func (a *app) getRedis() (*sharedredis.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	client, err := sharedredis.NewClient(&sharedredis.Config{
		Host:         a.cfg.Redis.Host,
		Port:         a.cfg.Redis.Port,
		Password:     a.cfg.Redis.Password,
		DB:           a.cfg.Redis.DB,
		DialTimeout:  a.cfg.Redis.DialTimeout,
		ReadTimeout:  a.cfg.Redis.ReadTimeout,
		WriteTimeout: a.cfg.Redis.WriteTimeout,
		PoolSize:     a.cfg.Redis.PoolSize,
	}, a.logger.Logger)
	if err != nil {
		return nil, err
	}
	a.redis = client
	return client, nil
}

func (a *app) getDB() (*postgresql.Client, error) {
	if a.db != nil {
		return a.db, nil
	}
	client, err := postgresql.NewClient(&postgresql.Config{
		Host:            a.cfg.Database.Host,
		Port:            a.cfg.Database.Port,
		User:            a.cfg.Database.User,
		Password:        a.cfg.Database.Password,
		Database:        a.cfg.Database.Database,
		SSLMode:         a.cfg.Database.SSLMode,
		MaxOpenConns:    a.cfg.Database.MaxOpenConns,
		MaxIdleConns:    a.cfg.Database.MaxIdleConns,
		ConnMaxLifetime: a.cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: a.cfg.Database.ConnMaxIdleTime,
	}, a.logger.Logger)
	if err != nil {
		return nil, err
	}
	a.db = client
	return client, nil
}

func (a *app) close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
