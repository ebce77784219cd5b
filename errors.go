package aresgo

import (
	"fmt"

	"github.com/pkg/errors"
)

// Status is the taxonomy of terminal and intermediate conditions the
// dispatch/response core can produce. It implements error so it can be
// returned and compared directly, e.g. errors.Is(err, StatusTimeout).
type Status int

const (
	StatusSuccess Status = iota
	StatusBadResp
	StatusServFail
	StatusNotImp
	StatusRefused
	StatusTimeout
	StatusNoMem
	StatusConnRefused
	StatusBadFamily
	StatusFormErr
	StatusNoServer
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusBadResp:
		return "EBADRESP"
	case StatusServFail:
		return "ESERVFAIL"
	case StatusNotImp:
		return "ENOTIMP"
	case StatusRefused:
		return "EREFUSED"
	case StatusTimeout:
		return "ETIMEOUT"
	case StatusNoMem:
		return "ENOMEM"
	case StatusConnRefused:
		return "ECONNREFUSED"
	case StatusBadFamily:
		return "EBADFAMILY"
	case StatusFormErr:
		return "EFORMERR"
	case StatusNoServer:
		return "ENOSERVER"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "EUNKNOWN"
	}
}

func (s Status) Error() string { return s.String() }

// wrapErr classifies a low-level I/O or parse error into a Status while
// keeping the original cause attached for debug logging (%+v prints a
// stack trace from the point of failure).
func wrapErr(status Status, cause error) error {
	if cause == nil {
		return status
	}
	return errors.WithStack(fmt.Errorf("%w: %w", status, cause))
}

// QueryTimeoutError is the cause attached to the error a caller receives
// when its query exhausted its retry budget and the last attempt timed
// out; it carries the qid for diagnostics.
type QueryTimeoutError struct {
	QID uint16
}

func (e QueryTimeoutError) Error() string {
	return fmt.Sprintf("query id 0x%04x timed out", e.QID)
}
