// Package cmd holds the fanind command tree.
package cmd

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "fanind",
	Short: "Fan-in job orchestration daemon",
	Long: `fanind tracks jobs fanned out to an external task engine, records
subtask completion reports, and triggers downstream work once a job
completes or times out.

Configuration comes from environment variables prefixed with FANIN_
(e.g. FANIN_STORAGE_DRIVER, FANIN_REDIS_ADDR) layered over built-in
defaults. Policy fields can additionally be overridden at runtime
through a record in the store.`,
	SilenceUsage: true,
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	setDefaults()
	viper.SetEnvPrefix("FANIN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

func setDefaults() {
	viper.SetDefault("server.addr", ":8080")

	viper.SetDefault("storage.driver", "sqlite")
	viper.SetDefault("storage.dsn", "fanin.db")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("queue.driver", "redis")
	viper.SetDefault("queue.name", "fan-in")

	viper.SetDefault("engine.webhook_url", "")

	viper.SetDefault("monitor.cron", "")
	viper.SetDefault("monitor.daily", "")

	viper.SetDefault("logging.level", "info")
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(viper.GetString("logging.level")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
