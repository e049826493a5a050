package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"tg-postplanner/internal/bot"
	"tg-postplanner/internal/config"
	"tg-postplanner/internal/coordinator"
	"tg-postplanner/internal/crash"
	"tg-postplanner/internal/handler"
	"tg-postplanner/internal/initiator"
	"tg-postplanner/internal/logger"
	"tg-postplanner/internal/ratelimit"
	"tg-postplanner/internal/scheduler"
	"tg-postplanner/internal/service"
	"tg-postplanner/internal/storage"
)

func main() {
	defer crash.RecoverWithStackAndExit("main")
	crash.SetupCrashHandler()

	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Optional dotenv file with POSTPLANNER_* overrides")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("Failed to load %s: %v", *envFile, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := logger.Setup(cfg); err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}

	if err := run(cfg); err != nil {
		logger.Fatalf("Post planner stopped: %v", err)
	}
	logger.Info("Post planner stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := storage.Initialize(cfg); err != nil {
		return err
	}
	defer storage.Close()

	posts := storage.NewPostRepository(storage.GetDB())
	if err := posts.MigrateTable(); err != nil {
		return err
	}

	kv, err := coordinator.NewClient(coordinator.Config{
		Address:        cfg.Redis.Address,
		Password:       cfg.Redis.Password,
		DB:             cfg.Redis.DB,
		KeyPrefix:      cfg.Redis.KeyPrefix,
		ConnectTimeout: cfg.Redis.ConnectTimeout,
	})
	if err != nil {
		return err
	}
	defer kv.Close()
	logger.Infof("Coordinator connected at %s", cfg.Redis.Address)

	timePolicy, err := service.NewTimePolicy(cfg.Scheduler.Timezone, cfg.Scheduler.TimeLayout)
	if err != nil {
		return err
	}

	botService, server, err := bot.Initialize(ctx, cfg)
	if err != nil {
		return err
	}
	messenger := bot.NewMessenger(botService.Bot, cfg.Bot)

	clk := clock.RealClock{}
	jobs := scheduler.New(clk, scheduler.WithPastTolerance(cfg.Scheduler.PastTolerance))
	planner := service.NewPostScheduler(posts, jobs, messenger, clk, service.Options{
		TimePolicy:               timePolicy,
		ValidationBuffer:         cfg.Scheduler.ValidationBuffer,
		ReminderGrace:            cfg.Scheduler.ReminderGrace,
		PublishOverdueOnRecovery: cfg.Scheduler.PublishOverdueOnRecovery,
		Language:                 cfg.Bot.Language,
	})

	report, err := planner.Reconcile(ctx)
	if err != nil {
		// partially restored schedules still run
		logger.Errorf("Reconcile finished with errors: %v", err)
	}
	logger.Infof("Restored %d posts: %d reminders, %d publishes, %d overdue published, %d overdue skipped",
		report.Posts, report.Reminders, report.Publishes, report.OverduePublished, report.OverdueSkipped)

	sessions := handler.NewSessionStore(kv, handler.DefaultSessionTTL)
	handler.New(handler.Deps{
		Posts:   planner,
		Limiter: ratelimit.New(kv, clk),
		Policy: ratelimit.Policy{
			MaxRequests: cfg.RateLimit.UserOperations.MaxRequests,
			Window:      cfg.RateLimit.UserOperations.Window,
		},
		Lock: initiator.New(kv, sessions, clk, initiator.Config{
			IdleTimeout: cfg.Initiator.IdleTimeout,
			ClaimTTL:    cfg.Initiator.ClaimTTL,
		}),
		Sessions:      sessions,
		Replies:       messenger,
		Language:      cfg.Bot.Language,
		DefaultOffset: cfg.Scheduler.DefaultRemindOffset,
	}).Register(botService.Handler)

	g, gctx := errgroup.WithContext(ctx)
	if server != nil {
		g.Go(server.Start)
	}
	g.Go(botService.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		return shutdown(cfg, botService, server, jobs)
	})

	return g.Wait()
}

func shutdown(cfg *config.Config, botService *bot.BotService, server *bot.WebhookServer, jobs *scheduler.Scheduler) error {
	timeout := cfg.Scheduler.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := botService.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	// pending jobs are dropped; the next start reconciles them from the database
	if err := jobs.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
