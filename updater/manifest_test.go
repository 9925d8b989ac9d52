package updater

import (
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedManifest(t *testing.T, secretKeyB64 string, m *Manifest) string {
	t.Helper()
	text, err := Serialize(secretKeyB64, m)
	require.NoError(t, err)
	return text
}

func TestManifestRoundTrip(t *testing.T) {
	s := NewSigner()
	pub, sec, err := s.GenerateKeyPair()
	require.NoError(t, err)

	m := &Manifest{
		version:    mustVersion(t, "1.2.3"),
		versionRaw: "1.2.3",
		urgency:    "mandatory",
		date:       "2026-07-01",
		changelog:  "https://example.com/changelog",
		platforms: map[string]platformFile{
			"mac":       {File: "https://dl.example.com/app-mac.zip", Size: 1024, Sha512: "aa"},
			"linux-x64": {File: "https://dl.example.com/app-linux.tar.gz", Size: 2048, Sha512: "bb"},
		},
		extra: map[string]string{},
	}

	text := signedManifest(t, sec, m)

	parsed, err := LoadFromString([]string{pub}, text)
	require.NoError(t, err)

	assert.Equal(t, m.Version(), parsed.Version())
	assert.Equal(t, m.Data(), parsed.Data())
}

func TestManifestLoadFromStringRejectsBadSignature(t *testing.T) {
	s := NewSigner()
	pub, sec, err := s.GenerateKeyPair()
	require.NoError(t, err)
	_, otherSec, err := s.GenerateKeyPair()
	require.NoError(t, err)

	m := &Manifest{version: mustVersion(t, "1.0.0"), versionRaw: "1.0.0", platforms: map[string]platformFile{}, extra: map[string]string{}}
	text := signedManifest(t, otherSec, m)

	_, err = LoadFromString([]string{pub}, text)
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, KindNoMatchingKey, kind)

	_ = sec
}

func TestManifestLoadFromStringTooFewLines(t *testing.T) {
	_, err := LoadFromString(nil, "only one line")
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, KindBadManifest, kind)
}

func TestManifestFromDataRequiresVersion(t *testing.T) {
	_, err := manifestFromData(map[string]string{"urgency": "mandatory"})
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, KindInvalidVersion, kind)
}

func TestManifestFromDataRejectsPartialPlatformEntry(t *testing.T) {
	_, err := manifestFromData(map[string]string{
		"version":  "1.0.0",
		"mac-file": "https://dl.example.com/app-mac.zip",
		// mac-size and mac-sha512 missing
	})
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, KindBadManifest, kind)
}

func TestManifestUrgencyDefaultsToMandatory(t *testing.T) {
	m, err := manifestFromData(map[string]string{"version": "1.0.0"})
	require.NoError(t, err)
	assert.Equal(t, "mandatory", m.Urgency())
	assert.True(t, m.IsMandatorySince("0.9.0"))
}

func TestManifestOptionalSince(t *testing.T) {
	m, err := manifestFromData(map[string]string{
		"version": "2.0.0",
		"urgency": "optional since 1.5.0",
	})
	require.NoError(t, err)

	assert.False(t, m.IsMandatorySince("1.6.0"))
	assert.True(t, m.IsMandatorySince("1.4.0"))
}

func TestManifestIsNewerVersionThan(t *testing.T) {
	m, err := manifestFromData(map[string]string{"version": "2.0.0"})
	require.NoError(t, err)

	assert.True(t, m.IsNewerVersionThan("1.0.0"))
	assert.False(t, m.IsNewerVersionThan("2.0.0"))
	assert.False(t, m.IsNewerVersionThan("3.0.0"))
}

func TestManifestHasCompletePlatform(t *testing.T) {
	m, err := manifestFromData(map[string]string{
		"version":     "1.0.0",
		"mac-file":    "https://dl.example.com/app-mac.zip",
		"mac-size":    "10",
		"mac-sha512":  "aa",
		"linux-file":  "",
	})
	require.NoError(t, err)

	assert.True(t, m.HasCompletePlatform("mac"))
	assert.False(t, m.HasCompletePlatform("windows"))
}

func mustVersion(t *testing.T, raw string) *semver.Version {
	t.Helper()
	v, err := semver.NewVersion(raw)
	require.NoError(t, err)
	return v
}
