package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"salahguard/config"
	"salahguard/internal/alarm"
	"salahguard/internal/api"
	"salahguard/internal/bot"
	"salahguard/internal/clock"
	"salahguard/internal/core"
	"salahguard/internal/dispatch"
	"salahguard/internal/guardian"
	"salahguard/internal/kiosk"
	"salahguard/internal/logging"
	"salahguard/internal/notify"
	"salahguard/internal/pin"
	"salahguard/internal/praytime"
	"salahguard/internal/reward"
	"salahguard/internal/schedule"
	"salahguard/internal/storage/sqlite"
	"salahguard/internal/watchdog"
)

const (
	shutdownTimeout   = 10 * time.Second
	defaultConfigPath = "config.json"
	bootWindow        = 5 * time.Minute
)

var processStart = time.Now()

// Adapter types to bridge interface differences between packages

// dispatchActions routes trigger side effects to the event fanout and the
// guardian supervisor.
type dispatchActions struct {
	fanout     *notify.Fanout
	supervisor *guardian.Supervisor
}

func (a *dispatchActions) ShowNotification(ctx context.Context, prayer core.PrayerName, scheduledTime time.Time) error {
	a.fanout.PrayerReminder(prayer, scheduledTime)
	return nil
}

func (a *dispatchActions) PlayAdhan(ctx context.Context, prayer core.PrayerName) error {
	a.fanout.Adhan(prayer, time.Now())
	return nil
}

func (a *dispatchActions) LaunchLock(ctx context.Context, prayer core.PrayerName, rakaatCount int, scheduledTime time.Time) error {
	a.fanout.LockActivated(prayer, time.Now())
	return a.supervisor.Launch(prayer, rakaatCount, scheduledTime)
}

func (a *dispatchActions) Relaunch(ctx context.Context, prayer core.PrayerName, rakaatCount int) error {
	return a.supervisor.Relaunch(prayer, rakaatCount)
}

// watchdogService runs the poll watchdog as a restartable goroutine
type watchdogService struct {
	ctx     context.Context
	wd      *watchdog.ServiceWatchdog
	running atomic.Bool
}

func (s *watchdogService) Restart() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer s.running.Store(false)
		s.wd.Start(s.ctx)
	}()
}

func (s *watchdogService) Running() bool {
	return s.running.Load()
}

// displayPermissions treats "a display client is attached" as the pinning
// permission. There is nothing to request from here; the display has to
// reconnect on its own.
type displayPermissions struct {
	kiosk *kiosk.DisplayKiosk
}

func (p *displayPermissions) Granted() bool { return p.kiosk.Attached() }
func (p *displayPermissions) Request() error {
	return errors.New("no display client attached")
}

// environment answers whether surfacing UI is acceptable right now
type environment struct {
	kiosk *kiosk.DisplayKiosk
}

func (e *environment) JustBooted() bool   { return time.Since(processStart) < bootWindow }
func (e *environment) InForeground() bool { return e.kiosk.Attached() }

// noRewards is the reward provider on deployments without one
type noRewards struct{}

func (noRewards) IsAvailable() bool        { return false }
func (noRewards) Show(cb reward.Callbacks) { cb.OnFailedToShow(errors.New("no reward provider")) }

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	useEnv := flag.Bool("env", false, "Load configuration from environment variables")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *useEnv {
		cfg, err = config.LoadFromEnv()
	} else {
		cfg, err = config.Load(*configPath)
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.NewLogger(logging.LoggerConfig{
		Format: cfg.Logging.Format,
		Level:  logging.ParseLevel(cfg.Logging.Level),
	})
	logger.Info("starting salahguard", "db", cfg.Database.Path, "timezone", cfg.Prayers.Timezone)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.RealClock{}
	tz := cfg.Location()

	db, err := sqlite.New(cfg.Database.Path, tz)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	// Event fanout: WebSocket hub for local displays, Telegram for parents.
	hub := notify.NewHub(logger)
	go hub.Run()

	telegram, err := notify.NewTelegramNotifier(cfg.Telegram, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telegram: %w", err)
	}
	fanout := notify.NewFanout(hub, telegram, logger)

	manager := core.NewLockManager(db, clk, tz, fanout, logger)

	displayKiosk := kiosk.New(hub, clk, logger)
	rewards := reward.NewQueue(noRewards{}, logger)
	supervisor := guardian.NewSupervisor(manager, displayKiosk, displayKiosk, db, rewards, clk, logger)
	defer supervisor.Shutdown()

	// Trigger pipeline: alarms fire triggers, the dispatcher dedups and
	// performs them, failed transient attempts requeue themselves.
	requeuer := dispatch.NewTimerRequeuer(logger)
	defer requeuer.Close()

	actions := &dispatchActions{fanout: fanout, supervisor: supervisor}
	dispatcher := dispatch.NewDispatcher(db, manager, actions, dispatch.NoopWakeLock{}, requeuer, clk, logger)
	requeuer.Bind(dispatcher.HandleAttempt)

	alarms := alarm.NewTimerService(func(t core.Trigger) {
		if err := dispatcher.HandleTrigger(ctx, t); err != nil {
			logger.Error("trigger dispatch failed", "action", t.Action, "prayer", t.PrayerName, "error", err)
		}
	}, logger)
	defer alarms.CancelAll()

	prayerTimes := make(map[core.PrayerName]string, len(cfg.Prayers.Times))
	for name, value := range cfg.Prayers.Times {
		prayerTimes[core.PrayerName(name)] = value
	}
	location := &praytime.StaticLocation{}
	calculator := &praytime.FixedCalculator{Times: prayerTimes, Timezone: tz, Now: clk.Now}

	scheduler := schedule.NewScheduler(alarms, location, calculator, manager, cfg, clk, logger)

	if err := scheduler.CheckAndUpdateSchedule(ctx, true); err != nil {
		logger.Error("initial scheduling failed", "error", err)
	}

	// Crash recovery: a lock that was active when the process died is
	// still binding, so the guardian relaunches before anything else runs.
	recoverActiveLock(ctx, manager, supervisor, logger)

	svcWatchdog := watchdog.NewServiceWatchdog(manager, displayKiosk, supervisor, scheduler, clk, logger)
	wdService := &watchdogService{ctx: ctx, wd: svcWatchdog}
	wdService.Restart()

	periodic := watchdog.NewPeriodicWatchdog(
		wdService,
		&displayPermissions{kiosk: displayKiosk},
		supervisor,
		&environment{kiosk: displayKiosk},
		manager,
		supervisor,
		dispatcher,
		logger,
	)
	if err := periodic.Start(ctx); err != nil {
		return fmt.Errorf("failed to start periodic watchdog: %w", err)
	}
	defer periodic.Stop()

	service := logging.NewLockServiceLogger(manager, logger)
	pinVerifier := pin.NewVerifier(cfg.Security.PINHash, clk)

	if cfg.Telegram.Enabled {
		parentBot, err := bot.NewBot(cfg, service, pinVerifier, logger)
		if err != nil {
			logger.Error("failed to start telegram bot", "error", err)
		} else {
			go parentBot.Start(ctx)
		}
	}

	router := api.NewRouter(api.RouterConfig{
		Service:   service,
		Sessions:  supervisor,
		Launcher:  supervisor,
		Scheduler: scheduler,
		Pin:       pinVerifier,
		Kiosk:     displayKiosk,
		Hub:       hub,
		APIKey:    cfg.Security.APIKey,
		Logger:    logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("control API listening", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info("shutting down", "signal", sig.String())

		svcWatchdog.Stop()
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		logger.Info("shutdown complete")
	}

	return nil
}

func recoverActiveLock(ctx context.Context, manager *core.LockManager, supervisor *guardian.Supervisor, logger *slog.Logger) {
	active, err := manager.IsLockActive(ctx)
	if err != nil {
		logger.Error("startup lock check failed", "error", err)
		return
	}
	if !active {
		return
	}

	state, err := manager.LockState(ctx)
	if err != nil {
		logger.Error("startup lock read failed", "error", err)
		return
	}
	if state.PinVerified || state.PrayerComplete {
		return
	}

	logger.Info("active lock found at startup, relaunching guardian",
		"prayer", state.PrayerName)
	manager.RecordRecovery(ctx, state.PrayerName, "startup recovery")
	if err := supervisor.Relaunch(state.PrayerName, state.RakaatCount); err != nil {
		logger.Error("startup guardian relaunch failed", "error", err)
	}
}
