package log

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

var log = logrus.New()

func init() {
	formatter := new(prefixed.TextFormatter)
	formatter.TimestampFormat = `15:04:05`
	formatter.FullTimestamp = true

	log.Formatter = formatter
}

// Get returns the shared logger, with its level taken from the
// STOPALERT_LOGLEVEL environment variable.
func Get() *logrus.Logger {
	switch strings.ToLower(os.Getenv("STOPALERT_LOGLEVEL")) {
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

func SetLogger(logger *logrus.Logger) {
	log = logger
}
