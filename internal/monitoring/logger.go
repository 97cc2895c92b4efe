// Package monitoring provides the diagnostic logger handed to each
// measurement component through its options.
package monitoring

import (
	"fmt"
	"log"
)

// Logger is a printf-style diagnostic logger. A nil Logger is valid and
// discards everything, so components can call it without nil checks via Logf.
type Logger func(format string, v ...interface{})

// Std returns a Logger backed by log.Printf.
func Std() Logger {
	return log.Printf
}

// Nop returns a Logger that drops all messages.
func Nop() Logger {
	return func(string, ...interface{}) {}
}

// Logf writes a message through l, tolerating a nil receiver.
func (l Logger) Logf(format string, v ...interface{}) {
	if l == nil {
		return
	}
	l(format, v...)
}

// WithPrefix returns a Logger that prepends "[prefix] " to each message.
func (l Logger) WithPrefix(prefix string) Logger {
	if l == nil {
		return nil
	}
	tag := fmt.Sprintf("[%s] ", prefix)
	return func(format string, v ...interface{}) {
		l(tag+format, v...)
	}
}
