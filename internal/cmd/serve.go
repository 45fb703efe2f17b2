package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tasklab/fanin/internal/server"
	"github.com/tasklab/fanin/pkg/core"
	"github.com/tasklab/fanin/pkg/creator"
	"github.com/tasklab/fanin/pkg/engine"
	"github.com/tasklab/fanin/pkg/monitor"
	"github.com/tasklab/fanin/pkg/policy"
	"github.com/tasklab/fanin/pkg/queue"
	"github.com/tasklab/fanin/pkg/report"
	"github.com/tasklab/fanin/pkg/schedule"
	"github.com/tasklab/fanin/pkg/storage"
	"github.com/tasklab/fanin/pkg/trigger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and the job monitor",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger()
	slog.SetDefault(logger)

	store, err := buildStore(ctx, logger)
	if err != nil {
		return err
	}
	publisher, err := buildPublisher(logger)
	if err != nil {
		return err
	}

	webhookURL := viper.GetString("engine.webhook_url")
	if webhookURL == "" {
		return fmt.Errorf("engine webhook url is required (FANIN_ENGINE_WEBHOOK_URL)")
	}

	eng := engine.NewClient(webhookURL, engine.WithLogger(logger))
	creat := creator.New(store, eng, creator.WithLogger(logger))
	reporter := report.NewReporter(store, report.WithLogger(logger))
	sender := trigger.New(store, publisher,
		trigger.WithQueue(viper.GetString("queue.name")),
		trigger.WithLogger(logger))
	resolver := policy.NewResolver(store,
		policy.WithEnvLayer(envPolicyLayer()),
		policy.WithLogger(logger))
	mon := monitor.New(store, resolver, sender, monitor.WithLogger(logger))
	runner := monitor.NewRunner(mon,
		monitor.WithSchedule(tickSchedule(ctx, resolver)),
		monitor.WithRunnerLogger(logger))

	srv := server.New(creat, reporter, store, server.WithLogger(logger))

	errCh := make(chan error, 2)
	go func() { errCh <- runner.Start(ctx) }()
	go func() { errCh <- srv.ListenAndServe(ctx, viper.GetString("server.addr")) }()

	err = <-errCh
	stop()
	<-errCh
	return normalizeShutdownErr(err)
}

// normalizeShutdownErr hides the cancellation a clean shutdown produces,
// including wrapped forms.
func normalizeShutdownErr(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func buildStore(ctx context.Context, logger *slog.Logger) (core.Store, error) {
	driver := viper.GetString("storage.driver")
	switch driver {
	case "memory":
		logger.Warn("using in-memory storage, job state is lost on restart")
		return storage.NewMemoryStore(), nil
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(viper.GetString("storage.dsn")), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		store := storage.NewGormStore(db)
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate sqlite storage: %w", err)
		}
		return store, nil
	case "redis":
		return storage.NewRedisStore(newRedisClient()), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

func buildPublisher(logger *slog.Logger) (core.Publisher, error) {
	driver := viper.GetString("queue.driver")
	switch driver {
	case "memory":
		logger.Warn("using in-memory queue, downstream messages are not delivered anywhere")
		return queue.NewMemoryPublisher(), nil
	case "redis":
		return queue.NewRedisPublisher(newRedisClient()), nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", driver)
	}
}

func newRedisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     viper.GetString("redis.addr"),
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
	})
}

// envPolicyLayer maps FANIN_POLICY_* environment values onto the deployment
// override layer. Only explicitly set values participate.
func envPolicyLayer() policy.Layer {
	var l policy.Layer
	if viper.IsSet("policy.polling_interval_minutes") {
		v := viper.GetFloat64("policy.polling_interval_minutes")
		l.PollingIntervalMinutes = &v
	}
	if viper.IsSet("policy.job_timeout_minutes") {
		v := viper.GetFloat64("policy.job_timeout_minutes")
		l.JobTimeoutMinutes = &v
	}
	if viper.IsSet("policy.enable_partial_completion") {
		v := viper.GetBool("policy.enable_partial_completion")
		l.EnablePartialCompletion = &v
	}
	if viper.IsSet("policy.partial_completion_threshold") {
		v := viper.GetFloat64("policy.partial_completion_threshold")
		l.PartialCompletionThreshold = &v
	}
	if viper.IsSet("policy.max_jobs_per_cycle") {
		v := viper.GetInt("policy.max_jobs_per_cycle")
		l.MaxJobsPerCycle = &v
	}
	return l
}

// tickSchedule prefers an explicit cron expression, then a daily tick time,
// otherwise ticks at the resolved polling interval.
func tickSchedule(ctx context.Context, resolver *policy.Resolver) schedule.Schedule {
	if expr := viper.GetString("monitor.cron"); expr != "" {
		return schedule.Cron(expr)
	}
	if at := viper.GetString("monitor.daily"); at != "" {
		if hour, minute, ok := parseDaily(at); ok {
			return schedule.Daily(hour, minute)
		}
		slog.Warn("invalid monitor.daily value, using the polling interval", "value", at)
	}
	return schedule.Every(resolver.Resolve(ctx).PollingInterval)
}

// parseDaily parses an "HH:MM" tick time.
func parseDaily(s string) (hour, minute int, ok bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, false
	}
	return t.Hour(), t.Minute(), true
}
