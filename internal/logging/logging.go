package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"snapkey/internal/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LatestName is the file the current run logs to.
const LatestName = "latest.log"

const archiveLayout = "2006-01-02_15-04-05"

// statFile checks archive name candidates; tests replace it.
var statFile = os.Stat

// Configure sets up logrus writing to <logs_path>/latest.log. A latest.log
// left by a previous run is archived under its modification time first.
func Configure(cfg *config.Config) (*logrus.Logger, error) {
	if err := config.MustStatePaths(cfg); err != nil {
		return nil, err
	}
	dir := config.ExpandPath(cfg.LogsPath)
	if _, err := ArchiveLatest(dir); err != nil {
		return nil, fmt.Errorf("archive previous log: %w", err)
	}
	logger := logrus.New()
	switch strings.ToLower(cfg.Logging.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if lvl, err := logrus.ParseLevel(strings.ToLower(cfg.Logging.Level)); err == nil {
		logger.SetLevel(lvl)
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(dir, LatestName),
		MaxSize:    max(1, cfg.Logging.MaxSizeMB), // megabytes
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     30,
		LocalTime:  true,
	}
	if cfg.Logging.Stdout {
		logger.SetOutput(io.MultiWriter(os.Stdout, rotator))
	} else {
		logger.SetOutput(rotator)
	}
	return logger, nil
}

// ArchiveLatest renames dir/latest.log to a name derived from its last
// modification time and returns the new path ("" when there was nothing to
// archive).
func ArchiveLatest(dir string) (string, error) {
	latest := filepath.Join(dir, LatestName)
	info, err := os.Stat(latest)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	stamp := info.ModTime().Format(archiveLayout)
	target := filepath.Join(dir, stamp+".log")
	for i := 1; ; i++ {
		_, err := statFile(target)
		if os.IsNotExist(err) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("archive name %s: %w", target, err)
		}
		target = filepath.Join(dir, fmt.Sprintf("%s-%d.log", stamp, i))
	}
	if err := os.Rename(latest, target); err != nil {
		return "", err
	}
	return target, nil
}

// Fallback returns a stderr logger for errors raised before Configure
// succeeded.
func Fallback() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logger
}

// NewTestLogger returns a logger that discards everything.
func NewTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)
	return logger
}
