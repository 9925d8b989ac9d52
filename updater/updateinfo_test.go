package updater

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateInfoSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), updateInfoFileName)

	info := &UpdateInfo{
		CurrentVersion: "1.0.0",
		UpdateVersion:  "1.1.0",
		UpdateSize:     1024,
		UpdateHash:     "deadbeef",
		UpdateFile:     "/tmp/update.bin",
	}
	require.NoError(t, info.save(path))

	loaded, err := loadUpdateInfo(path)
	require.NoError(t, err)
	assert.Equal(t, info, loaded)
	assert.True(t, loaded.Valid())
}

func TestUpdateInfoValidRequiresAllFields(t *testing.T) {
	cases := []*UpdateInfo{
		nil,
		{},
		{UpdateSize: 10},
		{UpdateSize: 10, UpdateHash: "aa"},
		{UpdateHash: "aa", UpdateFile: "x"},
	}
	for _, c := range cases {
		assert.False(t, c.Valid())
	}

	complete := &UpdateInfo{UpdateSize: 10, UpdateHash: "aa", UpdateFile: "x"}
	assert.True(t, complete.Valid())
}

func TestLoadUpdateInfoMissingFile(t *testing.T) {
	_, err := loadUpdateInfo(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
