package aresgo

import (
	"io"

	syslog "github.com/RackSec/srslog"
)

// newSyslogWriter opens a writer to the local syslog daemon tagged with
// the given program name, grounded on cmd/routedns/main.go's syslog wiring.
func newSyslogWriter(tag string) (io.Writer, error) {
	return syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, tag)
}
