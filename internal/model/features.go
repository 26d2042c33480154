package model

import (
	"time"

	"github.com/samcharles93/nanobridge/internal/request"
)

var processStart = time.Now()

// NowNS returns nanoseconds on a process-local monotonic clock. Request
// timestamps and the age feature must come from the same clock or the age
// feature saturates immediately.
func NowNS() uint64 {
	return uint64(time.Since(processStart))
}

// extractFeatures builds the 32-wide input vector. Features 0..9 are
// normalized request fields plus two history aggregates; 10..31 are the first
// ten echoed at half amplitude so the input layer sees a full vector.
// Caller holds m.mu.
func (m *Model) extractFeatures(req *request.Request) [InputSize]float32 {
	var f [InputSize]float32

	f[0] = float32(req.Type) / float32(request.Unknown)
	f[1] = float32(req.DeviceID&0xFF) / 255.0
	f[2] = float32((req.DeviceID>>8)&0xFF) / 255.0
	f[3] = float32(req.Address&0xFFFF) / 65535.0
	f[4] = float32(req.Size) / 4096.0
	f[5] = float32(req.Flags&0xFF) / 255.0
	f[6] = float32(req.Priority) / 10.0

	// Age of the request in milliseconds, clamped to one.
	age := float32(m.now()-req.Timestamp) / 1e6
	if age > 1.0 {
		age = 1.0
	}
	f[7] = age

	// Fraction of the last 100 feedback entries with the same request type,
	// and their average latency scaled to the 10ms range. With no history the
	// latency feature sits at the neutral 0.5.
	var sameType, count uint32
	var sumLatency uint64
	for i := uint32(0); i < 100 && i < m.st.HistoryIndex; i++ {
		idx := (m.st.HistoryIndex - 1 - i) % HistoryCapacity
		e := &m.st.History[idx]
		if request.Type(e.Pattern>>24) == req.Type {
			sameType++
		}
		sumLatency += uint64(e.LatencyUS)
		count++
	}
	f[8] = float32(sameType) / 100.0
	if count > 0 {
		f[9] = float32(sumLatency) / float32(count) / 10000.0
	} else {
		f[9] = 0.5
	}

	for i := 10; i < InputSize; i++ {
		f[i] = f[i%10] * 0.5
	}
	return f
}
