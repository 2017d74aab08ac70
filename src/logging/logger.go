// Package logging configures the process-wide structured logger.
package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Log is the shared logger used across the service. Safe for
// concurrent use; configure it once at startup via Configure.
var Log *logrus.Logger

func init() {
	Log = logrus.New()
	Log.SetFormatter(&logrus.JSONFormatter{})
	Log.SetLevel(logrus.InfoLevel)
}

// Configure applies environment-driven settings: APP_ENV switches to a
// human-readable text formatter outside production, LOG_LEVEL picks
// the minimum level.
func Configure() {
	if strings.ToLower(os.Getenv("APP_ENV")) != "production" {
		Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	setLevelFromString(os.Getenv("LOG_LEVEL"))
}

func setLevelFromString(level string) {
	if level == "" {
		return
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		Log.WithField("log_level", level).Warn("logging: unrecognized LOG_LEVEL, keeping default")
		return
	}
	Log.SetLevel(lvl)
}

// WithSession returns a log entry pre-populated with the session ID,
// so every line touching a session can be traced back to it.
func WithSession(sessionID string) *logrus.Entry {
	return Log.WithField("session_id", sessionID)
}
