package calib

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

func TestSink_DisabledWhenDirEmpty(t *testing.T) {
	s := New("", "run_1", time.Minute, nil)
	assert.False(t, s.Enabled())
	require.NoError(t, s.Open())
	require.NoError(t, s.Write([]byte("ignored")))
	require.NoError(t, s.Close())
}

func TestSink_WritesVerbatimAndSidecarDigest(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "run_1", time.Hour, nil)
	require.NoError(t, s.Open())

	words := [][]byte{
		[]byte("0123456789abcdef"),
		[]byte("fedcba9876543210"),
	}
	for _, w := range words {
		require.NoError(t, s.Write(w))
	}
	require.NoError(t, s.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var calibPath, sidecarPath string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".b2" {
			sidecarPath = filepath.Join(dir, e.Name())
		} else {
			calibPath = filepath.Join(dir, e.Name())
		}
	}
	require.NotEmpty(t, calibPath)
	require.NotEmpty(t, sidecarPath)

	content, err := os.ReadFile(calibPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789abcdeffedcba9876543210"), content)

	sidecar, err := os.ReadFile(sidecarPath)
	require.NoError(t, err)

	expected := blake2b.Sum256(content)
	assert.Equal(t, hex.EncodeToString(expected[:])+"\n", string(sidecar))
}

func TestSink_RotatesOnInterval(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "run_1", 10*time.Millisecond, nil)
	require.NoError(t, s.Open())
	require.NoError(t, s.Write([]byte("0123456789abcdef")))

	// File names have one-second resolution, so wait past a second
	// boundary to get a distinct name for the rotated file.
	time.Sleep(1100 * time.Millisecond)
	s.MaybeRotate()
	require.NoError(t, s.Write([]byte("fedcba9876543210")))
	require.NoError(t, s.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	calibCount := 0
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".calib" {
			calibCount++
		}
	}
	assert.Equal(t, 2, calibCount)
}
