package logging

import (
	"io"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var Log *logrus.Logger

// InitLogger sets up the global logger. Output goes to a rotating log file
// rather than stdout so log lines never interleave with the interactive
// prompt.
func InitLogger(path string, debug bool) {
	Log = logrus.New()
	Log.SetOutput(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    5, // megabytes
		MaxBackups: 2,
	})

	if debug {
		Log.SetLevel(logrus.DebugLevel)
		Log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	} else {
		Log.SetLevel(logrus.InfoLevel)
		Log.SetFormatter(&logrus.JSONFormatter{})
	}
}

// InitDiscard configures the global logger to swallow everything. Used by
// tests and one-shot runs that do not want a log file.
func InitDiscard() {
	Log = logrus.New()
	Log.SetOutput(io.Discard)
}
