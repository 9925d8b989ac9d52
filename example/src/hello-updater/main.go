package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/silthus/peerio-updater/updater"
)

var version = "dev"

func main() {
	manifestURL := flag.String("manifest", "https://example.com/updates/manifest.txt", "URL of the signed release manifest")
	publicKey := flag.String("pubkey", "", "base64 signify public key the manifest must be signed with")
	downloadsDir := flag.String("downloads", "update/", "directory to store downloaded artifacts and update-info.json")
	flag.Parse()

	logger := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	logger.Info().Str("version", version).Msg("hello-updater starting")

	if *publicKey == "" {
		logger.Fatal().Msg("-pubkey is required")
	}

	installers := updater.InstallerTable{
		{GOOS: "darwin", Nightly: false}:  &updater.GenericInstaller{},
		{GOOS: "linux", Nightly: false}:   &updater.GenericInstaller{},
		{GOOS: "windows", Nightly: false}: &updater.GenericInstaller{},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := updater.NewController(updater.Config{
		CurrentVersion: version,
		PublicKeys:     []string{*publicKey},
		ManifestURLs:   []string{*manifestURL},
		DownloadsDir:   *downloadsDir,
		AutoInstall:    true,
		Installers:     installers,
		OnShutdown: func(fn func()) {
			go func() {
				<-ctx.Done()
				fn()
			}()
		},
		Logger: &logger,
	})

	if c.DidLastUpdateFail() {
		logger.Warn().Msg("previous update attempt did not advance the running version")
	}
	c.Cleanup()

	go func() {
		for ev := range c.Events() {
			switch ev.Kind {
			case updater.EventUpdateAvailable:
				logger.Info().Str("version", ev.Manifest.Version()).Msg("update available, downloading")
			case updater.EventUpdateDownloaded:
				logger.Info().Str("path", ev.Path).Msg("update downloaded and verified, will install on quit")
			case updater.EventError:
				logger.Error().Err(ev.Err).Msg("update pipeline error")
			}
		}
	}()

	c.CheckPeriodically(ctx, 4*time.Hour)
	c.CheckForUpdates(ctx)

	logger.Info().Msg("hello world, running until interrupted")
	<-ctx.Done()
	logger.Info().Msg("shutting down")
}
