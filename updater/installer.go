package updater

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"

	update "gopkg.in/inconshreveable/go-update.v0"
)

// Installer is the contract the Controller uses to hand a verified artifact
// to platform-specific install logic. File replacement, privilege
// elevation and process relaunch are out of scope here; Installer is the
// narrow interface through which an external collaborator is invoked.
type Installer interface {
	Install(artifactPath string, restart bool) error
}

// InstallerFunc adapts a function to the Installer interface.
type InstallerFunc func(artifactPath string, restart bool) error

// Install calls f.
func (f InstallerFunc) Install(artifactPath string, restart bool) error {
	return f(artifactPath, restart)
}

// InstallerKey identifies one entry of the platform dispatch table: GOOS,
// plus the nightly channel flag, since some platforms use a distinct
// elevation path on the nightly channel.
type InstallerKey struct {
	GOOS    string
	Nightly bool
}

// InstallerTable is a compile-time map from (GOOS, nightly) to the
// Installer responsible for it — a compile-time map, not a dynamic
// `require`.
type InstallerTable map[InstallerKey]Installer

// Dispatch looks up the Installer for goos/nightly, falling back to the
// non-nightly entry for that GOOS if no nightly-specific one is registered.
// A missing dispatch is fatal: KindUnknownPlatformInstaller.
func (t InstallerTable) Dispatch(goos string, nightly bool) (Installer, error) {
	const op = "Dispatch"

	if i, ok := t[InstallerKey{GOOS: goos, Nightly: nightly}]; ok {
		return i, nil
	}
	if nightly {
		if i, ok := t[InstallerKey{GOOS: goos, Nightly: false}]; ok {
			return i, nil
		}
	}
	return nil, newError(KindUnknownPlatformInstaller, op, nil)
}

// GenericInstaller replaces the running executable in place using
// gopkg.in/inconshreveable/go-update.v0, with no privilege escalation. It is
// the one installer this repo implements concretely, for platforms and
// packaging modes that don't require elevation; installers that do are
// opaque external collaborators that the host application registers in its
// InstallerTable.
type GenericInstaller struct {
	// TargetPath is the executable to replace. Empty resolves to the
	// running executable via os.Executable().
	TargetPath string
}

// Install implements Installer.
func (g *GenericInstaller) Install(artifactPath string, restart bool) error {
	const op = "Install"

	artifact, err := os.ReadFile(artifactPath)
	if err != nil {
		return newError(KindUnknownPlatformInstaller, op, err)
	}

	target := g.TargetPath
	if target == "" {
		exe, err := os.Executable()
		if err != nil {
			return newError(KindUnknownPlatformInstaller, op, err)
		}
		target = exe
	}

	up := update.New()
	up.TargetPath = target

	updateErr, recoverErr := up.FromStream(bytes.NewReader(artifact))
	if recoverErr != nil {
		return newError(KindUnknownPlatformInstaller, op,
			fmt.Errorf("update failed and rollback failed: %v (rollback: %v)", updateErr, recoverErr))
	}
	if updateErr != nil {
		return newError(KindUnknownPlatformInstaller, op, updateErr)
	}

	if restart {
		return relaunch(target)
	}
	return nil
}

func relaunch(path string) error {
	cmd := exec.Command(path, os.Args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	return cmd.Start()
}
