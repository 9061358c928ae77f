// Package logging configures the process-wide logrus logger.
package logging

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// New builds a logrus.Logger formatted the way this service likes its logs:
// full timestamps, trimmed caller info, level from filter (e.g. "debug",
// "info", "warn"). An unrecognized filter falls back to info.
func New(filter string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetReportCaller(true)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			return "", ShortCaller(f.File) + ":" + strconv.Itoa(f.Line)
		},
	})

	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(filter)))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// ShortCaller trims a full source path down to "pkg/file.go" so log lines
// don't carry the whole build-machine path.
func ShortCaller(path string) string {
	return filepath.Join(filepath.Base(filepath.Dir(path)), filepath.Base(path))
}
