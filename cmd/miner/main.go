// Command miner runs the Twitch drops auto-miner: it signs in, watches
// whichever eligible campaign scores highest, claims finished drops, and
// serves a read-only status dashboard, until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"twitchdropsfarmer/internal/auth"
	"twitchdropsfarmer/internal/config"
	"twitchdropsfarmer/internal/gql"
	"twitchdropsfarmer/internal/httpx"
	"twitchdropsfarmer/internal/miner"
	"twitchdropsfarmer/internal/pubsub"
	"twitchdropsfarmer/internal/settingsstore"
	"twitchdropsfarmer/internal/storage"
	"twitchdropsfarmer/internal/ui"
	"twitchdropsfarmer/internal/web"
)

// version is the miner's own release string, independent of the Twitch
// client ID it impersonates, reported via --version.
const version = "1.0.0"

// Exit codes match the original application's contract: 0 clean, 1 fatal
// runtime error, 3 a second instance refused to start, 4 a settings/
// configuration load failure before anything else ran.
const (
	exitOK               = 0
	exitFatal            = 1
	exitAlreadyRunning   = 3
	exitConfigLoadFailed = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	verbosity := 0
	flag.BoolFunc("v", "increase log verbosity (repeatable; -v info, -v -v debug, -v -v -v trace)", func(string) error {
		verbosity++
		return nil
	})
	showVersion := flag.Bool("version", false, "print the miner's version and exit")
	tray := flag.Bool("tray", false, "start minimized to the system tray (ignored headless)")
	logToFile := flag.Bool("log", false, "also write logs to a file in the data directory")
	debugWS := flag.Bool("debug-ws", false, "set the log level to debug (raw pub/sub frames are not logged)")
	debugGQL := flag.Bool("debug-gql", false, "set the log level to debug (raw GraphQL bodies are not logged)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return exitOK
	}

	configureLogging(verbosity, debugWS, debugGQL)

	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		logrus.WithError(err).Error("failed to load configuration")
		return exitConfigLoadFailed
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logrus.WithError(err).Error("failed to create data directory")
		return exitConfigLoadFailed
	}

	if *logToFile {
		f, err := os.OpenFile(cfg.DataDir+"/miner.log", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			logrus.WithError(err).Warn("failed to open log file, continuing with stderr only")
		} else {
			defer f.Close()
			logrus.SetOutput(f)
		}
	}

	lock, err := config.AcquireLock(cfg.LockPath())
	if err != nil {
		logrus.WithError(err).Error("another instance is already running")
		return exitAlreadyRunning
	}
	defer config.ReleaseLock(cfg.LockPath(), lock)

	_ = tray // the desktop tray surface is out of scope; headless always runs console-adapter

	return runMiner(ctx, cfg)
}

func runMiner(ctx context.Context, cfg *config.Config) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	adapter := ui.NewConsole()

	settings, err := settingsstore.Open(cfg.SettingsPath())
	if err != nil {
		logrus.WithError(err).Error("failed to load settings")
		return exitConfigLoadFailed
	}
	current := settings.Settings()
	if err := settingsstore.ApplyEnvOverrides(ctx, &current); err != nil {
		logrus.WithError(err).Warn("failed to apply environment setting overrides")
	} else {
		settings.Update(current)
	}

	authState := auth.New()
	if err := auth.LoadCookies(cfg.CookiePath(), authState.Jar()); err != nil {
		logrus.WithError(err).Warn("failed to load persisted cookies")
	}
	if token, err := auth.LoadToken(cfg.TokenPath()); err == nil {
		authState.Token = token
	} else {
		authState.AdoptCookieToken()
	}
	if err := authState.EnsureIdentifiers(ctx); err != nil {
		logrus.WithError(err).Warn("failed to resolve device identifiers")
	}

	if ok, _ := authState.Validate(ctx); !ok {
		if err := signIn(ctx, authState, adapter); err != nil {
			adapter.LoginFailed(err.Error())
			return exitFatal
		}
		if err := auth.SaveToken(cfg.TokenPath(), authState.Token); err != nil {
			logrus.WithError(err).Warn("failed to persist token")
		}
	}
	adapter.LoginSucceeded(authState.User.DisplayName)
	if err := auth.SaveCookies(cfg.CookiePath(), authState.Jar()); err != nil {
		logrus.WithError(err).Warn("failed to persist cookies")
	}

	store, err := storage.Open(cfg.DatabasePath())
	if err != nil {
		logrus.WithError(err).Error("failed to open storage")
		return exitFatal
	}
	defer store.Close()

	httpClient, err := httpx.NewWithProxy(settings.Settings().Proxy)
	if err != nil {
		logrus.WithError(err).Error("failed to configure proxy")
		return exitFatal
	}
	gqlClient := gql.New(httpClient, authState.AccessToken(), authState.SessionID, authState.DeviceID)
	pool := pubsub.New(authState.AccessToken)
	defer pool.Stop()

	m := miner.New(cfg, gqlClient, pool, settings, store, authState.User.ID, authState.User.Login)

	dashboard := web.NewServer(cfg, m)
	go func() {
		if err := dashboard.Run(ctx, cfg.DashboardAddr); err != nil {
			logrus.WithError(err).Warn("status dashboard stopped")
		}
	}()

	go forwardClaims(ctx, m, adapter)

	err = m.Run(ctx)
	if err := settings.Save(); err != nil {
		logrus.WithError(err).Warn("failed to save settings on exit")
	}
	if err := auth.SaveCookies(cfg.CookiePath(), authState.Jar()); err != nil {
		logrus.WithError(err).Warn("failed to persist cookies on exit")
	}
	if err != nil && ctx.Err() == nil {
		logrus.WithError(err).Error("miner stopped with an error")
		return exitFatal
	}
	return exitOK
}

func forwardClaims(ctx context.Context, m *miner.Miner, adapter *ui.Console) {
	for {
		select {
		case <-ctx.Done():
			return
		case claimed, ok := <-m.ClaimEvents():
			if !ok {
				return
			}
			adapter.InvCampaignClaimed(claimed.Campaign.Name, claimed.Drop.Name)
			adapter.TrayNotify("Drop claimed", fmt.Sprintf("%s: %s", claimed.Campaign.Name, claimed.Drop.Name))
		}
	}
}

func signIn(ctx context.Context, authState *auth.State, adapter *ui.Console) error {
	code, err := authState.StartDeviceFlow(ctx)
	if err != nil {
		return err
	}
	adapter.LoginDeviceCode(code.UserCode, code.VerificationURI)
	return authState.PollForToken(ctx, code)
}

// configureLogging maps the repeatable -v flag onto four distinct
// logrus levels: unset stays at Warn (quiet by default), one -v steps up
// to Info, two to Debug, three or more to Trace.
func configureLogging(verbosity int, debugWS, debugGQL *bool) {
	level := logrus.WarnLevel
	switch {
	case verbosity >= 3:
		level = logrus.TraceLevel
	case verbosity == 2:
		level = logrus.DebugLevel
	case verbosity == 1:
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if *debugWS {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if *debugGQL {
		logrus.SetLevel(logrus.DebugLevel)
	}
}
