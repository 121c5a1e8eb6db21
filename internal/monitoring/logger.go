// Package monitoring holds the process-wide diagnostic logger.
package monitoring

import (
	"log"
	"sync/atomic"
)

// LogFunc has the shape of log.Printf.
type LogFunc func(format string, v ...interface{})

var logger atomic.Pointer[LogFunc]

func init() {
	SetLogger(log.Printf)
}

// Logf writes through the current logger. It is safe to call while another
// goroutine swaps the logger.
func Logf(format string, v ...interface{}) {
	(*logger.Load())(format, v...)
}

// SetLogger replaces the logger. Passing nil mutes logging.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	lf := LogFunc(f)
	logger.Store(&lf)
}

// Prefixed returns a LogFunc that prepends prefix to every format.
func Prefixed(prefix string) LogFunc {
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
