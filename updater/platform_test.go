package updater

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePlatform(t *testing.T) {
	cases := []struct {
		goos, goarch, want string
	}{
		{"darwin", "amd64", "mac"},
		{"darwin", "arm64", "mac"},
		{"windows", "amd64", "windows"},
		{"linux", "amd64", "linux-x64"},
		{"linux", "arm64", "linux-arm64"},
		{"linux", "386", "linux-ia32"},
		{"linux", "arm", "linux-arm"},
	}
	for _, c := range cases {
		got, err := resolvePlatform(c.goos, c.goarch)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}
}

func TestResolvePlatformUnsupported(t *testing.T) {
	_, err := resolvePlatform("plan9", "amd64")
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, KindUnsupportedPlatform, kind)

	_, err = resolvePlatform("linux", "mips")
	require.Error(t, err)
	kind, _ = KindOf(err)
	assert.Equal(t, KindUnsupportedPlatform, kind)
}
