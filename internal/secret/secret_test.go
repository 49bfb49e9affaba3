package secret

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoxRoundTrip(t *testing.T) {
	box, err := LoadOrCreateKey(filepath.Join(t.TempDir(), "secret.key"))
	require.NoError(t, err)

	opaque, err := box.Encrypt("hunter2")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(opaque, Prefix))
	assert.NotContains(t, opaque, "hunter2")

	plain, err := box.Decrypt(opaque)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)
}

func TestBoxPassesThroughLegacyAndEncoded(t *testing.T) {
	box, err := NewBox(make([]byte, 32))
	require.NoError(t, err)

	plain, err := box.Decrypt("legacy-plaintext")
	require.NoError(t, err)
	assert.Equal(t, "legacy-plaintext", plain)

	opaque, err := box.Encrypt("x")
	require.NoError(t, err)
	again, err := box.Encrypt(opaque)
	require.NoError(t, err)
	assert.Equal(t, opaque, again, "tagged values must not be double encoded")

	empty, err := box.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLoadOrCreateKeyReusesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "secret.key")

	first, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	opaque, err := first.Encrypt("value")
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	second, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	plain, err := second.Decrypt(opaque)
	require.NoError(t, err)
	assert.Equal(t, "value", plain)
}

func TestWrongKeyFails(t *testing.T) {
	a, err := NewBox(make([]byte, 32))
	require.NoError(t, err)
	key := make([]byte, 32)
	key[0] = 1
	b, err := NewBox(key)
	require.NoError(t, err)

	opaque, err := a.Encrypt("value")
	require.NoError(t, err)
	_, err = b.Decrypt(opaque)
	assert.Error(t, err)
}

func TestPassthroughRejectsEncoded(t *testing.T) {
	var p Passthrough
	v, err := p.Encrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", v)

	_, err = p.Decrypt(Prefix + "abc")
	assert.Error(t, err)
}

func TestNewBoxRejectsShortKey(t *testing.T) {
	_, err := NewBox([]byte("short"))
	assert.Error(t, err)
}
