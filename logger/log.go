// Package logger provides the shared logrus logger for the EnigmaIOT stack.
// Logging is disabled unless DEBUG_ENIGMAIOT is set in the environment.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	log  *Logger
	once sync.Once
)

type Logger struct {
	*logrus.Logger
}

func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithError(err)
}

func Initialize() {
	once.Do(func() {
		log = &Logger{}
		log.Logger = logrus.New()
		// Quiet by default; this is a library.
		log.SetOutput(io.Discard)
		log.SetLevel(logrus.PanicLevel)
		if logLevel := os.Getenv("DEBUG_ENIGMAIOT"); logLevel != "" {
			log.SetOutput(os.Stderr)
			switch strings.ToLower(logLevel) {
			case "info":
				log.SetLevel(logrus.InfoLevel)
			case "warn":
				log.SetLevel(logrus.WarnLevel)
			case "error":
				log.SetLevel(logrus.ErrorLevel)
			default:
				log.SetLevel(logrus.DebugLevel)
			}
			log.WithField("level", log.GetLevel()).Debug("logging enabled")
		}
	})
}

// GetLogger returns the process-wide logger, initializing it on first use.
func GetLogger() *Logger {
	if log == nil {
		Initialize()
	}
	return log
}

func init() {
	Initialize()
}
