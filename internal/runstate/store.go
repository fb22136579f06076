package runstate

// Handle identifies the supervised process recorded in the PID marker.
// Start is optional; when non-zero it is the process start stamp taken by
// detector.ProcStart and lets liveness probes reject a recycled PID.
type Handle struct {
	PID   int   `json:"pid"`
	Start int64 `json:"start,omitempty"`
}

// Endpoint is the reachable address announced by the supervised process.
type Endpoint struct {
	Address string `json:"address"`
}

// HandleState classifies the content of the PID marker.
type HandleState int

const (
	HandleMissing   HandleState = iota // no marker at all
	HandleMalformed                    // marker exists but holds no usable PID
	HandleValid
)

func (s HandleState) String() string {
	switch s {
	case HandleMissing:
		return "missing"
	case HandleMalformed:
		return "malformed"
	case HandleValid:
		return "valid"
	default:
		return "unknown"
	}
}

// Store is the runtime state shared between the supervisor and the supervised
// process. Reads report absence through the boolean result; the error result
// is reserved for I/O failures. Clear operations are idempotent.
type Store interface {
	// InspectHandle distinguishes a missing marker from a malformed one.
	InspectHandle() (Handle, HandleState, error)
	ReadHandle() (Handle, bool, error)
	WriteHandle(h Handle) error
	ClearHandle() error

	ReadEndpoint() (Endpoint, bool, error)
	WriteEndpoint(e Endpoint) error
	ClearEndpoint() error
}
