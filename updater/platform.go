package updater

import "runtime"

// archNames maps Go's runtime.GOARCH to the canonical architecture tags used
// in manifest platform keys (the same names Electron/Node-style updaters use,
// since manifests are expected to be authored by non-Go tooling too).
var archNames = map[string]string{
	"amd64": "x64",
	"arm64": "arm64",
	"386":   "ia32",
	"arm":   "arm",
}

// ResolvePlatform maps the host OS and architecture to the manifest platform
// key that selects the right `<platform>-file`/`-size`/`-sha512` triple.
func ResolvePlatform() (string, error) {
	return resolvePlatform(runtime.GOOS, runtime.GOARCH)
}

func resolvePlatform(goos, goarch string) (string, error) {
	const op = "ResolvePlatform"

	switch goos {
	case "darwin":
		return "mac", nil
	case "windows":
		return "windows", nil
	case "linux":
		arch, ok := archNames[goarch]
		if !ok {
			return "", newError(KindUnsupportedPlatform, op, nil)
		}
		return "linux-" + arch, nil
	default:
		return "", newError(KindUnsupportedPlatform, op, nil)
	}
}
