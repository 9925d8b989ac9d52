package updater

import (
	"encoding/json"
	"os"
)

const updateInfoFileName = "update-info.json"

// UpdateInfo is the crash-safe ledger written just before an install attempt
// and read back on the next startup to decide whether to clean up or retry.
type UpdateInfo struct {
	Attempts       int    `json:"attempts"`
	CurrentVersion string `json:"currentVersion"`
	UpdateVersion  string `json:"updateVersion"`
	UpdateSize     int64  `json:"updateSize"`
	UpdateHash     string `json:"updateHash"`
	UpdateFile     string `json:"updateFile"`
}

// Valid reports whether all fields required to trust a previously downloaded
// artifact are present. A missing UpdateSize is treated as invalid rather
// than as "no size recorded, skip the check" — every field is required.
func (u *UpdateInfo) Valid() bool {
	return u != nil && u.UpdateSize != 0 && u.UpdateHash != "" && u.UpdateFile != ""
}

// loadUpdateInfo reads and decodes the info file at path. A missing file is
// reported via the returned error, not a zero-value UpdateInfo; os.IsNotExist
// on that error distinguishes "never written" from "corrupt" (a corrupt file
// yields KindUpdateInfoInvalid).
func loadUpdateInfo(path string) (*UpdateInfo, error) {
	const op = "loadUpdateInfo"

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info UpdateInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, newError(KindUpdateInfoInvalid, op, err)
	}
	return &info, nil
}

// save writes info to path as indented JSON via whole-file replacement.
// Write errors are returned, not swallowed here — callers that must never
// fail (Controller.persistInstallInfo, used by ScheduleInstallOnQuit and
// QuitAndInstall) are responsible for treating them as non-fatal.
func (u *UpdateInfo) save(path string) error {
	const op = "save"

	raw, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return newError(KindUpdateInfoInvalid, op, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return newError(KindUpdateInfoInvalid, op, err)
	}
	return nil
}
