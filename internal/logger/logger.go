// Package logger provides the client's logging facade.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cenkalti/log"
)

var handler log.Handler

func init() {
	SetHandler(log.NewFileHandler(os.Stderr))
}

// SetHandler changes the global logging handler.
func SetHandler(h log.Handler) {
	handler = h
	handler.SetFormatter(logFormatter{})
}

// SetLevel sets the logging level on the global handler. Call with
// log.DEBUG when --verbose is passed on the command line.
func SetLevel(l log.Level) {
	handler.SetLevel(l)
}

// Logger logs messages from a single component, prefixed with its name.
type Logger log.Logger

// New returns a new Logger for a named component, e.g. "tracker" or
// "scheduler".
func New(name string) Logger {
	l := log.NewLogger(name)
	l.SetLevel(log.DEBUG) // forward everything, handler does the filtering
	l.SetHandler(handler)
	return l
}

// ForPeer returns a Logger named "peer <ip:port>" after a peer's address;
// engine.ConnectPeers hands one to each connection it dials.
func ForPeer(addr fmt.Stringer) Logger { return New("peer " + addr.String()) }

type logFormatter struct{}

func (f logFormatter) Format(rec *log.Record) string {
	return fmt.Sprintf("%s %-8s [%s] %-8s %s",
		fmt.Sprint(rec.Time)[:19],
		rec.Level,
		rec.LoggerName,
		filepath.Base(rec.Filename)+":"+strconv.Itoa(rec.Line),
		rec.Message)
}
