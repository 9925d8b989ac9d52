package updater

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kardianos/osext"
	"github.com/rs/zerolog"
)

// Scheduling bounds for CheckPeriodically.
const (
	MinCheckInterval     = 15 * time.Minute
	DefaultCheckInterval = 10 * time.Hour
)

// Config is supplied once at startup and owns everything the Controller
// needs to run the update pipeline.
type Config struct {
	CurrentVersion  string
	PublicKeys      []string
	ManifestURLs    []string
	Nightly         bool
	AllowPrerelease bool

	// DownloadsDir is the process-owned scratch directory for downloaded
	// artifacts and update-info.json. Two Controllers must not share one.
	DownloadsDir string

	// AutoInstall arms the exit hook as soon as a download verifies,
	// instead of waiting for an explicit ScheduleInstallOnQuit call.
	AutoInstall bool

	// Installers is the compile-time platform dispatch table.
	Installers InstallerTable

	// OnShutdown registers fn to run on the host's "before-quit" signal
	// This is an injected callback rather than global mutable state. If
	// nil, the exit hook instead waits for the process to receive
	// SIGINT/SIGTERM.
	OnShutdown func(fn func())

	// LinuxRelaunchExecEnvVar names the environment variable the
	// packaging layer uses to publish the current executable's path for
	// relaunch-after-install on Linux. Defaults to PEERIO_UPDATER_EXEC_PATH.
	LinuxRelaunchExecEnvVar string

	// Logger receives structured events. Defaults to a stderr logger with
	// timestamps if nil.
	Logger *zerolog.Logger
}

// Controller orchestrates check → download → verify → persist → install
// It owns ControllerState and the downloads directory exclusively;
// Manifest instances it holds are immutable after parsing.
type Controller struct {
	cfg    Config
	logger zerolog.Logger

	fetcher *Fetcher
	hasher  *Hasher
	sizer   *Sizer

	mu             sync.Mutex
	checking       bool
	downloading    bool
	newVersion     *Manifest
	downloadedFile string
	exitHookArmed  bool
	restart        bool
	lastCheckTime  time.Time

	timerMu   sync.Mutex
	timerStop chan struct{}

	events chan Event
}

// NewController builds a Controller from cfg. DownloadsDir and
// CurrentVersion are required; everything else has a sensible zero value.
func NewController(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		l := zerolog.New(os.Stderr).With().Timestamp().Str("component", "updater").Logger()
		logger = &l
	}
	if cfg.LinuxRelaunchExecEnvVar == "" {
		cfg.LinuxRelaunchExecEnvVar = "PEERIO_UPDATER_EXEC_PATH"
	}

	return &Controller{
		cfg:     cfg,
		logger:  *logger,
		fetcher: NewFetcher(),
		hasher:  NewHasher(),
		sizer:   NewSizer(),
		events:  make(chan Event, 32),
	}
}

// Events returns the channel of observable state transitions:
// checking-for-update → {update-available, update-not-available, error},
// with a subsequent automatic download emitting update-downloaded or error
// strictly after update-available. Consumers must drain it.
func (c *Controller) Events() <-chan Event { return c.events }

func (c *Controller) emit(ev Event) {
	c.logEvent(ev)
	c.events <- ev
}

func (c *Controller) emitError(err error) {
	c.emit(Event{Kind: EventError, Err: err})
}

func (c *Controller) logEvent(ev Event) {
	switch ev.Kind {
	case EventCheckingForUpdate:
		c.logger.Info().Msg("checking for update")
	case EventUpdateAvailable:
		c.logger.Info().Str("version", ev.Manifest.Version()).Msg("update available")
	case EventUpdateNotAvailable:
		c.logger.Debug().Msg("no update available")
	case EventUpdateDownloaded:
		c.logger.Info().Str("version", ev.Manifest.Version()).Str("path", ev.Path).Msg("update downloaded")
	case EventError:
		kind, _ := KindOf(ev.Err)
		c.logger.Error().Str("kind", string(kind)).Err(ev.Err).Msg("update error")
	}
}

// CheckForUpdates tries each configured manifest URL in order, surfacing
// only the last failure if all fail. checking is a mutex: a periodic tick
// that fires while a check is in flight is dropped, not queued.
func (c *Controller) CheckForUpdates(ctx context.Context) {
	c.mu.Lock()
	if c.checking {
		c.mu.Unlock()
		return
	}
	c.checking = true
	c.lastCheckTime = time.Now()
	c.mu.Unlock()

	c.emit(Event{Kind: EventCheckingForUpdate})

	var lastErr error
	var manifest *Manifest
	checkedOK := false

	for _, url := range c.cfg.ManifestURLs {
		m, err := c.fetchManifest(ctx, url)
		if err != nil {
			lastErr = err
			continue
		}
		manifest = m
		checkedOK = true
		break
	}

	c.mu.Lock()
	c.checking = false
	c.mu.Unlock()

	if !checkedOK {
		if lastErr == nil {
			lastErr = newError(KindConfigInvalid, "CheckForUpdates", fmt.Errorf("no manifest URLs configured"))
		}
		c.emitError(lastErr)
		return
	}

	if manifest == nil {
		c.emit(Event{Kind: EventUpdateNotAvailable})
		return
	}

	if !manifest.IsNewerVersionThan(c.cfg.CurrentVersion) {
		c.emit(Event{Kind: EventUpdateNotAvailable})
		return
	}

	c.mu.Lock()
	c.newVersion = manifest
	alreadyDownloading := c.downloading
	hasFile := c.downloadedFile != ""
	c.mu.Unlock()

	c.emit(Event{Kind: EventUpdateAvailable, Manifest: manifest})

	if !alreadyDownloading && !hasFile {
		go c.Download(ctx, "")
	}
}

// fetchManifest resolves one configured manifest reference: either a plain
// HTTPS URL, or a `github:<owner>/<repo>` reference expanded against the
// GitHub Releases API. A nil, nil return means this source authoritatively
// reports no update.
func (c *Controller) fetchManifest(ctx context.Context, rawURL string) (*Manifest, error) {
	if strings.HasPrefix(rawURL, "github:") {
		return c.fetchGithubManifest(ctx, strings.TrimPrefix(rawURL, "github:"))
	}
	text, err := c.fetcher.FetchText(ctx, rawURL, "")
	if err != nil {
		return nil, err
	}
	return LoadFromString(c.cfg.PublicKeys, text)
}

// Download fetches, verifies and records the platform artifact for the
// currently known newVersion. platform defaults to the host's resolved
// platform. downloading acts as a mutex: at most one download may be in
// flight.
func (c *Controller) Download(ctx context.Context, platform string) (string, error) {
	const op = "Download"

	c.mu.Lock()
	manifest := c.newVersion
	if manifest == nil {
		c.mu.Unlock()
		err := newError(KindNoUpdate, op, nil)
		c.emitError(err)
		return "", err
	}
	if c.downloading {
		c.mu.Unlock()
		return "", newError(KindDownloadInProgress, op, nil)
	}
	c.downloading = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.downloading = false
		c.mu.Unlock()
	}()

	if platform == "" {
		p, err := ResolvePlatform()
		if err != nil {
			c.emitError(err)
			return "", err
		}
		platform = p
	}

	file, hasFile := manifest.GetFile(platform)
	size, hasSize := manifest.GetSize(platform)
	hash, hasHash := manifest.GetSha512(platform)
	if !hasFile || !hasSize || !hasHash {
		err := newError(KindNoPlatformFile, op, nil)
		c.emitError(err)
		return "", err
	}

	if err := os.MkdirAll(c.cfg.DownloadsDir, 0o755); err != nil {
		err = newError(KindNoPlatformFile, op, err)
		c.emitError(err)
		return "", err
	}

	tmpName, err := randomTempFilename()
	if err != nil {
		c.emitError(err)
		return "", err
	}
	destPath := filepath.Join(c.cfg.DownloadsDir, tmpName)

	if _, err := c.fetcher.FetchFile(ctx, file, destPath); err != nil {
		c.emitError(err)
		return "", err
	}
	if err := c.sizer.Verify(size, destPath); err != nil {
		os.Remove(destPath)
		c.emitError(err)
		return "", err
	}
	if err := c.hasher.Verify(hash, destPath); err != nil {
		os.Remove(destPath)
		c.emitError(err)
		return "", err
	}

	c.mu.Lock()
	c.downloadedFile = destPath
	autoInstall := c.cfg.AutoInstall
	c.mu.Unlock()

	if autoInstall {
		c.ScheduleInstallOnQuit()
	}

	c.emit(Event{Kind: EventUpdateDownloaded, Manifest: manifest, Path: destPath})
	return destPath, nil
}

func randomTempFilename() (string, error) {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		return "", newError(KindBadLength, "randomTempFilename", err)
	}
	return fmt.Sprintf("peerio-update-%s.tmp", hex.EncodeToString(b)), nil
}

// CheckPeriodically arms a recurring CheckForUpdates call. interval is
// clamped: 0 means DefaultCheckInterval, and anything below
// MinCheckInterval is raised to it.
func (c *Controller) CheckPeriodically(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCheckInterval
	} else if interval < MinCheckInterval {
		interval = MinCheckInterval
	}

	c.timerMu.Lock()
	if c.timerStop != nil {
		close(c.timerStop)
	}
	stop := make(chan struct{})
	c.timerStop = stop
	c.timerMu.Unlock()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.mu.Lock()
				inProgress := c.checking
				c.mu.Unlock()
				if inProgress {
					continue
				}
				c.CheckForUpdates(ctx)
			}
		}
	}()
}

// StopCheckingPeriodically cancels the timer only; it has no effect on an
// in-flight fetch, which can only be canceled by its own timeout.
func (c *Controller) StopCheckingPeriodically() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.timerStop != nil {
		close(c.timerStop)
		c.timerStop = nil
	}
}

func (c *Controller) updateInfoPath() string {
	return filepath.Join(c.cfg.DownloadsDir, updateInfoFileName)
}

// ScheduleInstallOnQuit persists install-info and arms the exit hook
// without requesting the host quit.
func (c *Controller) ScheduleInstallOnQuit() {
	c.mu.Lock()
	c.restart = false
	manifest := c.newVersion
	file := c.downloadedFile
	c.mu.Unlock()

	c.persistInstallInfo(manifest, file)
	c.armExitHook()
}

// QuitAndInstall persists install-info, arms the exit hook with restart
// set, and invokes quit to request the host shut down. It does not resolve
// a relaunch executable path or pass one to the host or the installer on
// any OS; ExecutablePath resolves that path separately.
func (c *Controller) QuitAndInstall(quit func()) {
	c.mu.Lock()
	c.restart = true
	manifest := c.newVersion
	file := c.downloadedFile
	c.mu.Unlock()

	c.persistInstallInfo(manifest, file)
	c.armExitHook()
	if quit != nil {
		quit()
	}
}

// QuitAndRetryInstall re-uses a previously verified download when
// allowLocal is true and one is found on disk; otherwise it re-checks and
// re-downloads before installing. A failed retry records another attempt
// and still requests the host relaunch.
func (c *Controller) QuitAndRetryInstall(ctx context.Context, allowLocal bool, quit func()) error {
	const op = "QuitAndRetryInstall"

	if allowLocal {
		if path, ok := c.validUpdateFileOnDisk(); ok {
			c.mu.Lock()
			c.downloadedFile = path
			c.mu.Unlock()
			c.QuitAndInstall(quit)
			return nil
		}
	}

	c.CheckForUpdates(ctx)
	c.mu.Lock()
	manifest := c.newVersion
	c.mu.Unlock()
	if manifest == nil {
		err := newError(KindNoUpdate, op, nil)
		c.recordFailedAttempt()
		if quit != nil {
			quit()
		}
		return err
	}

	if _, err := c.Download(ctx, ""); err != nil {
		c.recordFailedAttempt()
		if quit != nil {
			quit()
		}
		return err
	}

	c.QuitAndInstall(quit)
	return nil
}

func (c *Controller) validUpdateFileOnDisk() (string, bool) {
	info, err := loadUpdateInfo(c.updateInfoPath())
	if err != nil || !info.Valid() {
		return "", false
	}
	if !c.isUnderDownloadsDir(info.UpdateFile) {
		return "", false
	}
	if c.sizer.Verify(info.UpdateSize, info.UpdateFile) != nil {
		return "", false
	}
	if c.hasher.Verify(info.UpdateHash, info.UpdateFile) != nil {
		return "", false
	}
	return info.UpdateFile, true
}

func (c *Controller) isUnderDownloadsDir(path string) bool {
	if path == "" {
		return false
	}
	absDir, err := filepath.Abs(c.cfg.DownloadsDir)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (c *Controller) recordFailedAttempt() {
	info, err := loadUpdateInfo(c.updateInfoPath())
	if err != nil || info == nil {
		info = &UpdateInfo{CurrentVersion: c.cfg.CurrentVersion}
	}
	info.Attempts++
	_ = info.save(c.updateInfoPath())
}

func (c *Controller) persistInstallInfo(manifest *Manifest, file string) {
	info := &UpdateInfo{CurrentVersion: c.cfg.CurrentVersion, UpdateFile: file}
	if manifest != nil {
		info.UpdateVersion = manifest.Version()
		if platform, err := ResolvePlatform(); err == nil {
			if size, ok := manifest.GetSize(platform); ok {
				info.UpdateSize = size
			}
			if hash, ok := manifest.GetSha512(platform); ok {
				info.UpdateHash = hash
			}
		}
	}
	// Write errors are non-fatal here: the exit hook must still run even
	// if the ledger couldn't be written.
	if err := info.save(c.updateInfoPath()); err != nil {
		c.logger.Warn().Err(err).Msg("failed to persist update-info.json")
	}
}

// DidLastUpdateFail reports whether the previous install attempt left
// currentVersion unadvanced: the info file can be read and its
// currentVersion still equals this run's currentVersion.
func (c *Controller) DidLastUpdateFail() bool {
	info, err := loadUpdateInfo(c.updateInfoPath())
	if err != nil {
		return false
	}
	return info.CurrentVersion == c.cfg.CurrentVersion
}

// Cleanup removes the update artifact, if it resides under the downloads
// directory, then removes the info file. All filesystem errors are
// swallowed.
func (c *Controller) Cleanup() {
	info, err := loadUpdateInfo(c.updateInfoPath())
	if err == nil && info.UpdateFile != "" && c.isUnderDownloadsDir(info.UpdateFile) {
		_ = os.Remove(info.UpdateFile)
	}
	_ = os.Remove(c.updateInfoPath())
}

// armExitHook installs the one-shot before-quit callback. If the host
// offers no OnShutdown integration, it falls back to waiting for the
// process to receive SIGINT/SIGTERM.
func (c *Controller) armExitHook() {
	c.mu.Lock()
	if c.exitHookArmed {
		c.mu.Unlock()
		return
	}
	c.exitHookArmed = true
	onShutdown := c.cfg.OnShutdown
	c.mu.Unlock()

	hook := func() {
		c.mu.Lock()
		file := c.downloadedFile
		restart := c.restart
		c.mu.Unlock()

		installer, err := c.cfg.Installers.Dispatch(runtime.GOOS, c.cfg.Nightly)
		if err != nil {
			c.emitError(err)
			return
		}
		if err := installer.Install(file, restart); err != nil {
			c.emitError(err)
		}
	}

	if onShutdown != nil {
		onShutdown(hook)
		return
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		hook()
	}()
}

// ExecutablePath resolves the current executable's path, for host code
// constructing a GenericInstaller's TargetPath. On Linux it prefers the
// packaging layer's env var since osext's self-resolution is unreliable
// under some Linux packaging formats; everywhere else it defers straight
// to osext.
func (c *Controller) ExecutablePath() string {
	if runtime.GOOS == "linux" {
		if path := os.Getenv(c.cfg.LinuxRelaunchExecEnvVar); path != "" {
			return path
		}
	}
	path, err := osext.Executable()
	if err != nil {
		return ""
	}
	return path
}
