package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger returns the logger shared by every component of the node.
func NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	log.SetLevel(logrus.InfoLevel)
	return log
}

// NewDebugLogger is NewLogger at debug level.
func NewDebugLogger() *logrus.Logger {
	log := NewLogger()
	log.SetLevel(logrus.DebugLevel)
	return log
}
