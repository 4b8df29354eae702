// Package logging adapts a *logrus.Entry to pluginapi.Logger, the way the
// teacher's pkg/log/log.go builds one *logrus.Entry at startup and threads
// it through every command object. Debug builds get a text formatter with
// full timestamps; production builds get the teacher's JSON formatter for
// host log aggregation.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/wopr-network/wopr-plugin-sandbox/pkg/pluginapi"
)

// entryLogger adapts *logrus.Entry to pluginapi.Logger.
type entryLogger struct {
	entry *logrus.Entry
}

// New builds a pluginapi.Logger backed by logrus, mirroring
// pkg/log.NewLogger's dev/production formatter split.
func New(debug bool) pluginapi.Logger {
	logger := logrus.New()
	logger.Out = os.Stderr

	if debug {
		logger.SetLevel(logrus.DebugLevel)
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetLevel(logrus.InfoLevel)
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	return &entryLogger{entry: logrus.NewEntry(logger)}
}

func (l *entryLogger) WithField(key string, value interface{}) pluginapi.Logger {
	return &entryLogger{entry: l.entry.WithField(key, value)}
}

func (l *entryLogger) WithError(err error) pluginapi.Logger {
	return &entryLogger{entry: l.entry.WithError(err)}
}

func (l *entryLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *entryLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *entryLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *entryLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
