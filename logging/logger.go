// Package logging wraps logrus with the fixed text format the storage
// core uses for its trace output: timestamp, level, component, message.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// Logger is a component-scoped logrus entry.
type Logger struct {
	entry *logrus.Entry
}

type componentFormatter struct{}

func (componentFormatter) Format(e *logrus.Entry) ([]byte, error) {
	level := strings.ToUpper(e.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}
	component, _ := e.Data["component"].(string)
	if component == "" {
		component = "core"
	}
	msg := fmt.Sprintf("%s [%s] (%s) %s\n",
		e.Time.Format("15:04:05.000"), level, component, e.Message)
	return []byte(msg), nil
}

var root = newRoot()

func newRoot() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(componentFormatter{})
	l.SetLevel(logrus.InfoLevel)
	l.SetOutput(os.Stderr)
	return l
}

// SetLevel parses one of debug/info/warn/error and applies it to the
// shared root logger; an unrecognized level is ignored.
func SetLevel(level string) {
	lv, err := logrus.ParseLevel(level)
	if err != nil {
		return
	}
	root.SetLevel(lv)
}

// SetOutput redirects every component logger's destination.
func SetOutput(w io.Writer) {
	root.SetOutput(w)
}

// New returns a logger scoped to the given component name, e.g.
// "bufferpool", "wal", "lock".
func New(component string) *Logger {
	return &Logger{entry: root.WithField("component", component)}
}

func (l *Logger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }

// Bytes renders a byte count the way stats lines report pool/WAL sizes.
func Bytes(n uint64) string {
	return humanize.Bytes(n)
}

// Since renders an elapsed duration for wait/latency trace lines.
func Since(start time.Time) string {
	return humanize.RelTime(start, time.Now(), "", "")
}
