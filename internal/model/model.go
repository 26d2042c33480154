// Package model implements the quantized feed-forward decision model that
// routes bridged requests: feature extraction, inference, feedback history,
// rolling statistics and binary snapshots.
//
// The model is deliberately tiny. Two dense layers of signed 8-bit weights
// with per-layer float32 scales predict a handling decision, a confidence,
// an estimated service latency and a batching hint for every request. There
// is no gradient path: feedback only feeds the history ring and the running
// counters, and the weights stay at their initialized values until a snapshot
// replaces them.
package model

import (
	"errors"
	"math"
	"math/rand"
	"sync"

	"github.com/samcharles93/nanobridge/internal/request"
)

// HistoryCapacity is the fixed size of the feedback ring. HistoryIndex only
// ever grows; the slot for a new entry is the index modulo this capacity, so
// the oldest entry is overwritten once the ring is full.
const HistoryCapacity = 1000

var (
	ErrNotInitialized = errors.New("model: not initialized")
	ErrInvalidArg     = errors.New("model: invalid argument")
	ErrModelCorrupt   = errors.New("model: snapshot corrupt")
)

// HistoryEntry is one recorded feedback observation.
type HistoryEntry struct {
	Pattern   uint32 // request type in the top byte, low 24 bits of device id
	Decision  request.Decision
	LatencyUS uint32
	Success   bool
}

// state is the full persistent model state; the snapshot codec serializes it
// field for field.
type state struct {
	WeightsInputHidden  [InputSize][HiddenSize]int8
	WeightsHiddenOutput [HiddenSize][OutputSize]int8
	BiasHidden          [HiddenSize]int8
	BiasOutput          [OutputSize]int8

	ScaleInput  float32
	ScaleHidden float32
	ScaleOutput float32

	RequestsProcessed     uint64
	SuccessfulPredictions uint64
	FailedPredictions     uint64
	AvgLatencyUS          uint32

	History      [HistoryCapacity]HistoryEntry
	HistoryIndex uint32

	LearningEnabled bool
	LearningRate    float32
	BatchSize       uint32
}

// Config controls model initialization.
type Config struct {
	// LearningEnabled gates whether Feedback records anything at all. Weight
	// updates are not implemented either way; the flag only controls the
	// statistics path.
	LearningEnabled bool

	// Seed drives the Xavier weight initialization. Fix it in tests for
	// reproducible predictions.
	Seed int64
}

// Stats is a point-in-time read of the model counters.
type Stats struct {
	RequestsProcessed uint64
	Accuracy          float32 // successes/(successes+failures), 0 with no feedback
	AvgLatencyUS      uint32
}

// Model holds one decision model instance. The zero value is unusable until
// Init is called; every operation on an uninitialized model returns
// ErrNotInitialized. A single mutex serializes predict, feedback, snapshot
// and stats access. Inference is cheap enough that read/write splitting is
// not worth the complexity.
type Model struct {
	mu          sync.Mutex
	st          state
	initialized bool
	now         func() uint64
}

// New returns an uninitialized model. Call Init before use, or Load to adopt
// a snapshot directly.
func New() *Model {
	return &Model{now: NowNS}
}

// Init seeds the weights and resets all statistics. Calling Init on an
// already-initialized model is a no-op and always safe.
func (m *Model) Init(cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	initWeights(&m.st, rng)

	m.st.ScaleInput = 1.0
	m.st.ScaleHidden = 1.0
	m.st.ScaleOutput = 1.0

	m.st.RequestsProcessed = 0
	m.st.SuccessfulPredictions = 0
	m.st.FailedPredictions = 0
	m.st.AvgLatencyUS = 0
	m.st.HistoryIndex = 0

	m.st.LearningEnabled = cfg.LearningEnabled
	m.st.LearningRate = 0.01
	m.st.BatchSize = 10

	m.initialized = true
	return nil
}

// Close zeroes the model state. The instance can be re-initialized afterwards.
func (m *Model) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = state{}
	m.initialized = false
}

// initWeights applies Xavier-style initialization: uniform samples in (-1,1)
// scaled by sqrt(2/(fanIn+fanOut)), then quantized by multiplying by 127 and
// truncating to int8. Biases are small integers in [-10,9].
func initWeights(st *state, rng *rand.Rand) {
	scale := float32(math.Sqrt(2.0 / float64(InputSize+HiddenSize)))
	for i := 0; i < InputSize; i++ {
		for h := 0; h < HiddenSize; h++ {
			w := (rng.Float32() - 0.5) * 2.0 * scale
			st.WeightsInputHidden[i][h] = int8(w * 127.0)
		}
	}

	scale = float32(math.Sqrt(2.0 / float64(HiddenSize+OutputSize)))
	for h := 0; h < HiddenSize; h++ {
		for o := 0; o < OutputSize; o++ {
			w := (rng.Float32() - 0.5) * 2.0 * scale
			st.WeightsHiddenOutput[h][o] = int8(w * 127.0)
		}
	}

	for h := 0; h < HiddenSize; h++ {
		st.BiasHidden[h] = int8(rng.Intn(20) - 10)
	}
	for o := 0; o < OutputSize; o++ {
		st.BiasOutput[o] = int8(rng.Intn(20) - 10)
	}
}

// Predict runs one request through the network and interprets the 16-wide
// output vector: outputs 0..5 are the decision classes (argmax wins, its
// probability is the confidence), output 6 scaled by 10000 is the latency
// estimate in microseconds, output 7 above 0.5 recommends batching and
// output 8 scaled by 1000 is the batch delay. Outputs 9..15 are reserved but
// still participate in the softmax normalization.
func (m *Model) Predict(req *request.Request) (request.Prediction, error) {
	if req == nil {
		return request.Prediction{}, ErrInvalidArg
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return request.Prediction{}, ErrNotInitialized
	}

	features := m.extractFeatures(req)
	out := m.forward(&features)

	maxIdx := 0
	maxProb := out[0]
	for i := 1; i < request.DecisionCount; i++ {
		if out[i] > maxProb {
			maxProb = out[i]
			maxIdx = i
		}
	}

	pred := request.Prediction{
		Decision:           request.Decision(maxIdx),
		Confidence:         maxProb,
		EstimatedLatencyUS: uint32(out[6] * 10000.0),
		ShouldBatch:        out[7] > 0.5,
	}
	if pred.ShouldBatch {
		pred.BatchDelayUS = uint32(out[8] * 1000.0)
	}

	m.st.RequestsProcessed++
	return pred, nil
}

// Feedback records the observed outcome of a prediction: a history entry, the
// success/failure counters and the moving latency average. The whole call is
// a no-op when learning was disabled at Init.
//
// Weight updates are intentionally absent; feedback is recorded, the network
// never changes.
func (m *Model) Feedback(req *request.Request, pred request.Prediction, actualLatencyUS uint32, success bool) {
	if req == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized || !m.st.LearningEnabled {
		return
	}

	idx := m.st.HistoryIndex % HistoryCapacity
	m.st.History[idx] = HistoryEntry{
		Pattern:   req.Pattern(),
		Decision:  pred.Decision,
		LatencyUS: actualLatencyUS,
		Success:   success,
	}
	m.st.HistoryIndex++

	if success {
		m.st.SuccessfulPredictions++
	} else {
		m.st.FailedPredictions++
	}

	if m.st.AvgLatencyUS == 0 {
		m.st.AvgLatencyUS = actualLatencyUS
	} else {
		m.st.AvgLatencyUS = (m.st.AvgLatencyUS*9 + actualLatencyUS) / 10
	}
}

// Stats returns the current counters. Accuracy is zero until the first
// feedback arrives.
func (m *Model) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		RequestsProcessed: m.st.RequestsProcessed,
		AvgLatencyUS:      m.st.AvgLatencyUS,
	}
	total := m.st.SuccessfulPredictions + m.st.FailedPredictions
	if total > 0 {
		s.Accuracy = float32(m.st.SuccessfulPredictions) / float32(total)
	}
	return s
}

// PredictFailure estimates the failure probability for a request from the
// recorded history of its type. With no matching history the answer is 0.5,
// the prior under total ignorance.
func (m *Model) PredictFailure(req *request.Request) (float32, error) {
	if req == nil {
		return 0, ErrInvalidArg
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return 0, ErrNotInitialized
	}

	var failures, total uint32
	for i := uint32(0); i < m.st.HistoryIndex && i < HistoryCapacity; i++ {
		e := &m.st.History[i]
		if request.Type(e.Pattern>>24) != req.Type {
			continue
		}
		total++
		if !e.Success {
			failures++
		}
	}

	if total == 0 {
		return 0.5, nil
	}
	return float32(failures) / float32(total), nil
}

// OptimizeRequest returns a copy of the request with its size aligned for the
// target path: reads and writes round up to the 64-byte cache line (minimum
// one line), DMA allocations round up to the 4096-byte page. Other types pass
// through untouched. No model inference is involved.
func (m *Model) OptimizeRequest(req *request.Request) (request.Request, error) {
	if req == nil {
		return request.Request{}, ErrInvalidArg
	}

	m.mu.Lock()
	initialized := m.initialized
	m.mu.Unlock()
	if !initialized {
		return request.Request{}, ErrNotInitialized
	}

	opt := *req
	switch req.Type {
	case request.IoRead, request.IoWrite:
		if opt.Size < 64 {
			opt.Size = 64
		} else {
			opt.Size = (opt.Size + 63) &^ 63
		}
	case request.DmaAlloc:
		opt.Size = (opt.Size + 4095) &^ 4095
	}
	return opt, nil
}

// PredictBatch groups requests that can be serviced together. Two requests
// share a group exactly when their type and device id match; group ids are
// assigned in first-seen order. Despite the name there is no inference here,
// just deterministic equivalence grouping.
func (m *Model) PredictBatch(reqs []request.Request) ([]uint32, uint32, error) {
	m.mu.Lock()
	initialized := m.initialized
	m.mu.Unlock()
	if !initialized {
		return nil, 0, ErrNotInitialized
	}

	groups := make([]uint32, len(reqs))
	var numGroups uint32
	for i := range reqs {
		found := false
		for j := 0; j < i; j++ {
			if reqs[i].Type == reqs[j].Type && reqs[i].DeviceID == reqs[j].DeviceID {
				groups[i] = groups[j]
				found = true
				break
			}
		}
		if !found {
			groups[i] = numGroups
			numGroups++
		}
	}
	return groups, numGroups, nil
}

// HistoryLen reports how many feedback entries are currently live in the ring
// and the total number ever recorded.
func (m *Model) HistoryLen() (live int, recorded uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st.HistoryIndex < HistoryCapacity {
		return int(m.st.HistoryIndex), uint64(m.st.HistoryIndex)
	}
	return HistoryCapacity, uint64(m.st.HistoryIndex)
}
