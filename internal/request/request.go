// Package request defines the wire-level request and prediction types shared
// by the queue, the decision model and the bridge.
package request

import "errors"

var ErrInvalidRequest = errors.New("request: invalid request")

// Type identifies the kind of operation a caller wants bridged.
type Type uint32

const (
	IoRead Type = iota
	IoWrite
	DmaAlloc
	Interrupt
	PCIConfig
	PowerState
	Unknown

	// TypeCount is the number of known discriminants including Unknown.
	TypeCount = int(Unknown) + 1
)

func (t Type) String() string {
	switch t {
	case IoRead:
		return "io_read"
	case IoWrite:
		return "io_write"
	case DmaAlloc:
		return "dma_alloc"
	case Interrupt:
		return "interrupt"
	case PCIConfig:
		return "pci_config"
	case PowerState:
		return "power_state"
	default:
		return "unknown"
	}
}

// ParseType maps a string back to a Type. Unrecognised input maps to Unknown.
func ParseType(s string) Type {
	switch s {
	case "io_read":
		return IoRead
	case "io_write":
		return IoWrite
	case "dma_alloc":
		return DmaAlloc
	case "interrupt":
		return Interrupt
	case "pci_config":
		return PCIConfig
	case "power_state":
		return PowerState
	default:
		return Unknown
	}
}

// Decision is the handling class the model predicts for a request.
type Decision uint32

const (
	PassThrough Decision = iota
	Buffer
	Optimize
	Defer
	Reject
	Retry

	// DecisionCount is the number of decision classes in the model output.
	DecisionCount = int(Retry) + 1
)

func (d Decision) String() string {
	switch d {
	case PassThrough:
		return "pass_through"
	case Buffer:
		return "buffer"
	case Optimize:
		return "optimize"
	case Defer:
		return "defer"
	case Reject:
		return "reject"
	case Retry:
		return "retry"
	default:
		return "invalid"
	}
}

// Request is one unit of work submitted by a caller. It is immutable once
// enqueued; the queue keeps its own copy so a caller may reuse the value
// immediately after submitting it.
type Request struct {
	Type      Type
	DeviceID  uint32
	Address   uint64
	Size      uint32
	Data      []byte
	Flags     uint32
	Timestamp uint64 // monotonic nanoseconds at creation
	Priority  uint32 // 0..10
}

// Validate checks the fields a caller controls. Priority above 10 and a type
// beyond the known discriminants are rejected rather than silently clamped.
func (r *Request) Validate() error {
	if r == nil {
		return ErrInvalidRequest
	}
	if int(r.Type) >= TypeCount {
		return ErrInvalidRequest
	}
	if r.Priority > 10 {
		return ErrInvalidRequest
	}
	return nil
}

// Pattern encodes the request identity used by the feedback history: the
// request type in the top byte and the low 24 bits of the device id below it.
func (r *Request) Pattern() uint32 {
	return uint32(r.Type)<<24 | r.DeviceID&0xFFFFFF
}

// Prediction is the model's verdict for a single request.
type Prediction struct {
	Decision           Decision
	Confidence         float32
	EstimatedLatencyUS uint32
	ShouldBatch        bool
	BatchDelayUS       uint32
}
