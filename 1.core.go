package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const (
	pidFile               = ".bot.pid"
	pendingSweepInterval  = time.Minute
	limiterPruneInterval  = 10 * time.Minute
	profileGaugeRefreshAt = 5 * time.Minute
)

func main() {
	// 0. Recover from panics (LogFatal uses panic to ensure defers run)
	defer func() {
		if r := recover(); r != nil {
			if msg, ok := r.(string); ok {
				fmt.Fprintf(os.Stderr, "\n[FATAL] %s\n", msg)
				os.Exit(1)
			}
			panic(r)
		}
	}()

	silent := flag.Bool("silent", false, "Disable all log output")
	skipReg := flag.Bool("skip-reg", false, "Skip command registration")
	clearAll := flag.Bool("clear-all", false, "Force clear guild commands (scan all guilds)")
	flag.Parse()

	// 1. Configuration
	cfg, err := LoadConfig()
	if err != nil {
		LogFatal(MsgConfigFailedToLoad, err)
	}

	// 2. Logger
	InitLogger(*silent || cfg.Silent, true)

	// 3. Database
	if err := InitDatabase(context.Background(), cfg.DatabasePath); err != nil {
		LogFatal("Failed to initialize database: %v", err)
	}
	defer CloseDatabase()

	LogInfo(MsgBotStarting, CachedBotName(context.Background()))

	// 4. Single instance
	f := acquirePIDLock()
	defer func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		_ = os.Remove(pidFile)
	}()

	// 5. Run bot (blocks until shutdown signal)
	if err := run(cfg, *silent, *skipReg, *clearAll); err != nil {
		LogFatal(MsgGenericError, err)
	}
}

// acquirePIDLock takes an exclusive lock on the PID file, terminating a previous instance if one holds it.
func acquirePIDLock() *os.File {
	f, err := os.OpenFile(pidFile, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		LogFatal("Failed to open PID file: %v", err)
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if err != syscall.EWOULDBLOCK {
			LogFatal("Failed to lock PID file: %v", err)
		}

		var oldPid int
		_, _ = f.Seek(0, 0)
		if _, scanErr := fmt.Fscanf(f, "%d", &oldPid); scanErr != nil {
			_ = f.Close()
			<-ticker.C
			if f, err = os.OpenFile(pidFile, os.O_RDWR|os.O_CREATE, 0644); err != nil {
				LogFatal("Failed to open PID file: %v", err)
			}
			continue
		}
		if oldPid == os.Getpid() {
			break
		}

		process, procErr := os.FindProcess(oldPid)
		if procErr != nil {
			<-ticker.C
			continue
		}

		LogInfo(MsgBotKillingOld, oldPid)
		_ = process.Signal(syscall.SIGTERM)
		if !waitForExit(process, ticker.C, 5*time.Second) {
			LogWarn("Old process %d is stubborn. Sending SIGKILL...", oldPid)
			_ = process.Signal(syscall.SIGKILL)
			if !waitForExit(process, ticker.C, 2*time.Second) {
				LogWarn("Process %d still exists after SIGKILL", oldPid)
			}
		}
		LogInfo(MsgBotOldTerminated)
	}

	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	_, _ = fmt.Fprintf(f, "%d", os.Getpid())
	_ = f.Sync()
	return f
}

func waitForExit(process *os.Process, tick <-chan time.Time, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case <-tick:
			if err := process.Signal(syscall.Signal(0)); err != nil {
				return true
			}
		case <-deadline:
			return false
		}
	}
}

func run(cfg *Config, silent bool, skipReg bool, clearAll bool) error {
	// 1. Global context that responds to shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	SetAppContext(ctx)

	// 2. Workflow
	profiles := NewSQLProfileStore(DB)
	pending := NewPendingStore(cfg.PendingTTL)
	physique = NewPhysique(profiles, pending, cfg.ProfileStaleAfter)
	registerCalculations(physique)
	commandLimiter = newUserLimiter(cfg.CommandInterval, cfg.CommandBurst)

	// 3. Daemons, started once the gateway is ready
	RegisterDaemon(LogPending, func(ctx context.Context) (bool, func(), func()) {
		return pending.StartJanitor(ctx, pendingSweepInterval)
	})
	RegisterDaemon(LogMetrics, func(ctx context.Context) (bool, func(), func()) {
		return StartMetricsServer(ctx, cfg.MetricsAddr)
	})
	RegisterDaemon(LogMetrics, func(ctx context.Context) (bool, func(), func()) {
		return startHousekeeping(ctx, profiles)
	})

	// 4. Discord client
	client, err := CreateClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create Discord client: %w", err)
	}
	defer client.Close(context.Background())

	// 5. Command Registration
	if !skipReg {
		if err := RegisterCommands(client, cfg.GuildID, clearAll); err != nil {
			LogError(MsgBotRegisterFail, err)
		}
	} else {
		LogInfo("Skipping command registration as requested.")
	}

	// 6. Connect to Gateway
	if err := client.OpenGateway(ctx); err != nil {
		return fmt.Errorf("failed to open gateway: %w", err)
	}

	<-ctx.Done()
	if !silent {
		fmt.Println()
	}

	LogInfo("Shutting down all daemons...")
	ShutdownDaemons()

	if botUser, ok := client.Caches.SelfUser(); ok {
		LogInfo(MsgBotShutdown, botUser.Username)
	} else {
		LogInfo(MsgBotShutdown, GetProjectName())
	}
	return nil
}

// startHousekeeping prunes idle rate limiters and keeps the profile gauge current.
func startHousekeeping(ctx context.Context, profiles *SQLProfileStore) (bool, func(), func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	run := func() {
		defer close(done)
		prune := time.NewTicker(limiterPruneInterval)
		defer prune.Stop()
		gauge := time.NewTicker(profileGaugeRefreshAt)
		defer gauge.Stop()

		refreshProfileGauge(ctx, profiles)
		for {
			select {
			case <-ctx.Done():
				return
			case <-prune.C:
				if n := commandLimiter.Prune(); n > 0 {
					LogDebug("Pruned %d idle rate limiter(s)", n)
				}
			case <-gauge.C:
				refreshProfileGauge(ctx, profiles)
			}
		}
	}

	return true, run, func() {
		cancel()
		<-done
	}
}
