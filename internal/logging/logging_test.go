package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToInfoStdout(t *testing.T) {
	log, err := New(Config{})
	require.NoError(t, err)
	require.Equal(t, logrus.InfoLevel, log.GetLevel())
	require.Equal(t, os.Stdout, log.Out)
}

func TestNewParsesLevel(t *testing.T) {
	log, err := New(Config{Level: "DEBUG"})
	require.NoError(t, err)
	require.Equal(t, logrus.DebugLevel, log.GetLevel())
}

func TestNewRejectsInvalidLevel(t *testing.T) {
	_, err := New(Config{Level: "not-a-level"})
	require.Error(t, err)
}

func TestNewWithFileRotatesViaLumberjack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "udpm.log")
	log, err := New(Config{File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	log.Info("hello")

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}
