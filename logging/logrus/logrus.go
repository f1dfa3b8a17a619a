// Package logrus adapts github.com/sirupsen/logrus to logging.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/rpccache/logging"
)

var _ logging.Logger = Logger{}

type Logger struct{ E *logrus.Entry }

// New wraps l; nil => logrus.StandardLogger().
func New(l *logrus.Logger) Logger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return Logger{E: logrus.NewEntry(l)}
}

func (l Logger) Debug(msg string, f logging.Fields) { l.entry(f).Debug(msg) }
func (l Logger) Info(msg string, f logging.Fields)  { l.entry(f).Info(msg) }
func (l Logger) Warn(msg string, f logging.Fields)  { l.entry(f).Warn(msg) }
func (l Logger) Error(msg string, f logging.Fields) { l.entry(f).Error(msg) }

// entry maps an "err" field onto logrus' own error key.
func (l Logger) entry(f logging.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	lf := make(logrus.Fields, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok && k == "err" {
			lf[logrus.ErrorKey] = err
			continue
		}
		lf[k] = v
	}
	return l.E.WithFields(lf)
}
