package common

import (
	log "github.com/sirupsen/logrus"
)

// SetLogLevel configures logrus from a -loglevel flag value.
// Unknown levels fall back to info.
func SetLogLevel(level string) {
	l, err := log.ParseLevel(level)
	if err != nil {
		log.Warnf("unknown log level %q, using info", level)
		l = log.InfoLevel
	}
	log.SetLevel(l)
}
