// Package logrus adapts sirupsen/logrus to tilepyramid.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	tp "github.com/unkn0wn-root/tilepyramid"
)

var _ tp.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

// New tags every entry with component=<component>.
func New(l *logrus.Logger, component string) LogrusLogger {
	return LogrusLogger{E: l.WithField("component", component)}
}

func (l LogrusLogger) Debug(msg string, f tp.Fields) { l.with(f).Debug(msg) }
func (l LogrusLogger) Info(msg string, f tp.Fields)  { l.with(f).Info(msg) }
func (l LogrusLogger) Warn(msg string, f tp.Fields)  { l.with(f).Warn(msg) }
func (l LogrusLogger) Error(msg string, f tp.Fields) { l.with(f).Error(msg) }

// with moves an "err" field to logrus' error key.
func (l LogrusLogger) with(f tp.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	out := make(logrus.Fields, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok && k == "err" {
			out[logrus.ErrorKey] = err
			continue
		}
		out[k] = v
	}
	return l.E.WithFields(out)
}
