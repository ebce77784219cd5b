package aresgo

import (
	"io"
	"log/slog"
)

// Log can be replaced by the embedding application to enable logging from
// the channel. Silent by default.
var Log = slog.New(slog.NewTextHandler(io.Discard, nil))

// NewSyslogHandler returns an slog.Handler that writes to the local syslog
// daemon via RackSec/srslog, for operators that want the channel's log
// output folded into host syslog rather than collected from stdout/stderr.
func NewSyslogHandler(tag string, opts *slog.HandlerOptions) (slog.Handler, error) {
	w, err := newSyslogWriter(tag)
	if err != nil {
		return nil, err
	}
	return slog.NewTextHandler(w, opts), nil
}
