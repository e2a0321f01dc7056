// Package notify carries mutation outcomes to whatever surface the caller
// renders them on. The core only ever talks to the interface in
// internal/record; this package holds the process-level implementations.
package notify

import "log"

// Log writes notifications to the process log. It is the default sink for
// headless deployments where no UI channel is attached.
type Log struct {
	Prefix string
}

func NewLog(prefix string) *Log {
	return &Log{Prefix: prefix}
}

func (l *Log) Success(message string) {
	log.Printf("%s: %s", l.prefix(), message)
}

func (l *Log) Error(message string) {
	log.Printf("%s: ERROR: %s", l.prefix(), message)
}

func (l *Log) prefix() string {
	if l.Prefix == "" {
		return "notify"
	}
	return l.Prefix
}
