package model

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"golang.org/x/sys/unix"

	"github.com/samcharles93/nanobridge/internal/request"
)

// snapshotSize is the exact byte length of a model snapshot. There is no
// header and no version field: the blob is the serialized state, nothing
// else, and a file whose size differs is rejected as corrupt.
const snapshotSize = InputSize*HiddenSize + // input->hidden weights
	HiddenSize*OutputSize + // hidden->output weights
	HiddenSize + OutputSize + // biases
	3*4 + // layer scales
	8 + 8 + 8 + 4 + // counters
	HistoryCapacity*historyEntrySize +
	4 + // history index
	1 + 4 + 4 // config block

const historyEntrySize = 4 + 4 + 4 + 1

// Save writes the full model state to path as a little-endian binary blob.
func (m *Model) Save(path string) error {
	if path == "" {
		return ErrInvalidArg
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return ErrNotInitialized
	}

	buf := marshalState(&m.st)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("model: save snapshot: %w", err)
	}
	return nil
}

// Load replaces the in-memory model state with the snapshot at path and marks
// the model initialized. A short or oversized file fails with ErrModelCorrupt
// and a read failure with a wrapped I/O error; in both cases the previous
// state is left untouched.
func (m *Model) Load(path string) error {
	if path == "" {
		return ErrInvalidArg
	}

	data, cleanup, err := readSnapshot(path)
	if err != nil {
		return err
	}
	defer cleanup()

	st := unmarshalState(data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = *st
	m.initialized = true
	return nil
}

// readSnapshot maps the snapshot file read-only, falling back to a plain read
// when mmap is unavailable. The byte count is validated before any decoding.
func readSnapshot(path string) (data []byte, cleanup func(), err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("model: open snapshot: %w", err)
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("model: stat snapshot: %w", err)
	}
	if stat.Size() != snapshotSize {
		return nil, nil, fmt.Errorf("%w: got %d bytes, want %d", ErrModelCorrupt, stat.Size(), snapshotSize)
	}

	mapped, err := unix.Mmap(int(f.Fd()), 0, snapshotSize, unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		return mapped, func() { _ = unix.Munmap(mapped) }, nil
	}

	buf := make([]byte, snapshotSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, nil, fmt.Errorf("model: read snapshot: %w", err)
	}
	return buf, func() {}, nil
}

func marshalState(st *state) []byte {
	buf := make([]byte, 0, snapshotSize)

	for i := 0; i < InputSize; i++ {
		for h := 0; h < HiddenSize; h++ {
			buf = append(buf, byte(st.WeightsInputHidden[i][h]))
		}
	}
	for h := 0; h < HiddenSize; h++ {
		for o := 0; o < OutputSize; o++ {
			buf = append(buf, byte(st.WeightsHiddenOutput[h][o]))
		}
	}
	for h := 0; h < HiddenSize; h++ {
		buf = append(buf, byte(st.BiasHidden[h]))
	}
	for o := 0; o < OutputSize; o++ {
		buf = append(buf, byte(st.BiasOutput[o]))
	}

	buf = appendF32(buf, st.ScaleInput)
	buf = appendF32(buf, st.ScaleHidden)
	buf = appendF32(buf, st.ScaleOutput)

	buf = binary.LittleEndian.AppendUint64(buf, st.RequestsProcessed)
	buf = binary.LittleEndian.AppendUint64(buf, st.SuccessfulPredictions)
	buf = binary.LittleEndian.AppendUint64(buf, st.FailedPredictions)
	buf = binary.LittleEndian.AppendUint32(buf, st.AvgLatencyUS)

	for i := range st.History {
		e := &st.History[i]
		buf = binary.LittleEndian.AppendUint32(buf, e.Pattern)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(e.Decision))
		buf = binary.LittleEndian.AppendUint32(buf, e.LatencyUS)
		buf = appendBool(buf, e.Success)
	}
	buf = binary.LittleEndian.AppendUint32(buf, st.HistoryIndex)

	buf = appendBool(buf, st.LearningEnabled)
	buf = appendF32(buf, st.LearningRate)
	buf = binary.LittleEndian.AppendUint32(buf, st.BatchSize)

	return buf
}

// unmarshalState decodes a snapshot blob. The caller has already validated
// the byte count, so decoding cannot run short.
func unmarshalState(data []byte) *state {
	st := &state{}
	off := 0

	for i := 0; i < InputSize; i++ {
		for h := 0; h < HiddenSize; h++ {
			st.WeightsInputHidden[i][h] = int8(data[off])
			off++
		}
	}
	for h := 0; h < HiddenSize; h++ {
		for o := 0; o < OutputSize; o++ {
			st.WeightsHiddenOutput[h][o] = int8(data[off])
			off++
		}
	}
	for h := 0; h < HiddenSize; h++ {
		st.BiasHidden[h] = int8(data[off])
		off++
	}
	for o := 0; o < OutputSize; o++ {
		st.BiasOutput[o] = int8(data[off])
		off++
	}

	st.ScaleInput, off = readF32(data, off)
	st.ScaleHidden, off = readF32(data, off)
	st.ScaleOutput, off = readF32(data, off)

	st.RequestsProcessed = binary.LittleEndian.Uint64(data[off:])
	off += 8
	st.SuccessfulPredictions = binary.LittleEndian.Uint64(data[off:])
	off += 8
	st.FailedPredictions = binary.LittleEndian.Uint64(data[off:])
	off += 8
	st.AvgLatencyUS = binary.LittleEndian.Uint32(data[off:])
	off += 4

	for i := range st.History {
		e := &st.History[i]
		e.Pattern = binary.LittleEndian.Uint32(data[off:])
		off += 4
		e.Decision = request.Decision(binary.LittleEndian.Uint32(data[off:]))
		off += 4
		e.LatencyUS = binary.LittleEndian.Uint32(data[off:])
		off += 4
		e.Success = data[off] != 0
		off++
	}
	st.HistoryIndex = binary.LittleEndian.Uint32(data[off:])
	off += 4

	st.LearningEnabled = data[off] != 0
	off++
	st.LearningRate, off = readF32(data, off)
	st.BatchSize = binary.LittleEndian.Uint32(data[off:])

	return st
}

func appendF32(buf []byte, v float32) []byte {
	return binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
}

func readF32(data []byte, off int) (float32, int) {
	return math.Float32frombits(binary.LittleEndian.Uint32(data[off:])), off + 4
}

func appendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}
