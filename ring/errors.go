package ring

import "errors"

var (
	ErrInvalidHandle     = errors.New("invalid handle")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrCapacityExceeded  = errors.New("capacity exceeded")
	ErrRegistryExhausted = errors.New("registry exhausted")
	ErrAllocationFailure = errors.New("allocation failure")
	ErrBufferFull        = errors.New("buffer full")
	ErrIndexRingFull     = errors.New("index ring full")
	ErrProtocolViolation = errors.New("protocol violation")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidHandle, "invalid_handle"},
	{ErrInvalidArgument, "invalid_argument"},
	{ErrCapacityExceeded, "capacity_exceeded"},
	{ErrRegistryExhausted, "registry_exhausted"},
	{ErrAllocationFailure, "allocation_failure"},
	{ErrBufferFull, "buffer_full"},
	{ErrIndexRingFull, "index_ring_full"},
	{ErrProtocolViolation, "protocol_violation"},
}

// Code returns a short, stable identifier for err, suitable for log fields
// and metric labels. It returns "ok" for nil and "error" for errors outside
// this package's taxonomy.
func Code(err error) string {
	if err == nil {
		return "ok"
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "error"
}
