package log

import "github.com/sirupsen/logrus"

// BadgerLogrusAdapter implements the badger.Logger interface using logrus.
// Badger reports routine compaction and replay progress at info level; those
// lines are demoted to debug so they do not drown the crawl cycle output.
type BadgerLogrusAdapter struct {
	*logrus.Entry
}

// NewBadgerLogrusAdapter creates a new adapter
func NewBadgerLogrusAdapter(entry *logrus.Entry) *BadgerLogrusAdapter {
	return &BadgerLogrusAdapter{entry}
}

// Errorf logs an error message
func (l *BadgerLogrusAdapter) Errorf(f string, v ...interface{}) { l.Entry.Errorf(f, v...) }

// Warningf logs a warning message
func (l *BadgerLogrusAdapter) Warningf(f string, v ...interface{}) { l.Entry.Warnf(f, v...) }

// Infof logs badger's informational chatter at debug level
func (l *BadgerLogrusAdapter) Infof(f string, v ...interface{}) { l.Entry.Debugf(f, v...) }

// Debugf is dropped unless the logger runs at trace level
func (l *BadgerLogrusAdapter) Debugf(f string, v ...interface{}) { l.Entry.Tracef(f, v...) }
