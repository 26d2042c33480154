package model

import (
	"math"
	"testing"

	"github.com/samcharles93/nanobridge/internal/request"
)

func newTestModel(t *testing.T, learning bool) *Model {
	t.Helper()
	m := New()
	m.now = func() uint64 { return 5_000_000 }
	if err := m.Init(Config{LearningEnabled: learning, Seed: 42}); err != nil {
		t.Fatalf("init: %v", err)
	}
	return m
}

func sampleRequest() request.Request {
	return request.Request{
		Type:      request.IoRead,
		DeviceID:  0x8086,
		Address:   0x1000,
		Size:      64,
		Timestamp: 4_000_000,
		Priority:  5,
	}
}

func TestPredictUninitialized(t *testing.T) {
	t.Parallel()

	m := New()
	req := sampleRequest()
	if _, err := m.Predict(&req); err != ErrNotInitialized {
		t.Fatalf("predict on uninitialized model: got %v, want %v", err, ErrNotInitialized)
	}
}

func TestPredictNilRequest(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, true)
	if _, err := m.Predict(nil); err != ErrInvalidArg {
		t.Fatalf("predict nil: got %v, want %v", err, ErrInvalidArg)
	}
}

func TestPredictDeterministic(t *testing.T) {
	t.Parallel()

	a := newTestModel(t, true)
	b := newTestModel(t, true)

	req := sampleRequest()
	pa, err := a.Predict(&req)
	if err != nil {
		t.Fatalf("predict a: %v", err)
	}
	pb, err := b.Predict(&req)
	if err != nil {
		t.Fatalf("predict b: %v", err)
	}
	if pa != pb {
		t.Fatalf("same seed, different predictions: %+v vs %+v", pa, pb)
	}
}

func TestPredictOutputContract(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, true)
	req := sampleRequest()
	pred, err := m.Predict(&req)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}

	if int(pred.Decision) >= request.DecisionCount {
		t.Fatalf("decision out of range: %d", pred.Decision)
	}
	if pred.Confidence <= 0 || pred.Confidence > 1 {
		t.Fatalf("confidence out of range: %v", pred.Confidence)
	}
	if !pred.ShouldBatch && pred.BatchDelayUS != 0 {
		t.Fatalf("batch delay %d set without batching recommendation", pred.BatchDelayUS)
	}

	s := m.Stats()
	if s.RequestsProcessed != 1 {
		t.Fatalf("requests processed: got %d, want 1", s.RequestsProcessed)
	}
}

func TestSoftmaxNormalizes(t *testing.T) {
	t.Parallel()

	values := []float32{3.5, -2.0, 0.0, 800.0, -800.0, 1.25}
	softmax(values)

	var sum float32
	for i, v := range values {
		if v < 0 || v > 1 {
			t.Fatalf("values[%d] = %v outside [0,1]", i, v)
		}
		sum += v
	}
	if math.Abs(float64(sum)-1.0) > 1e-5 {
		t.Fatalf("softmax sum: got %v, want 1", sum)
	}
}

func TestFeedbackAccuracyAndLatency(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, true)
	req := sampleRequest()
	pred := request.Prediction{Decision: request.Buffer}

	m.Feedback(&req, pred, 1000, true)
	m.Feedback(&req, pred, 2000, true)
	m.Feedback(&req, pred, 3000, true)
	m.Feedback(&req, pred, 4000, false)

	s := m.Stats()
	if s.Accuracy != 0.75 {
		t.Fatalf("accuracy: got %v, want 0.75", s.Accuracy)
	}

	// First feedback seeds the average, each later one folds in at 1/10
	// weight with integer arithmetic.
	want := uint32(1000)
	for _, l := range []uint32{2000, 3000, 4000} {
		want = (want*9 + l) / 10
	}
	if s.AvgLatencyUS != want {
		t.Fatalf("avg latency: got %d, want %d", s.AvgLatencyUS, want)
	}
}

func TestFeedbackLearningDisabled(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, false)
	req := sampleRequest()
	m.Feedback(&req, request.Prediction{}, 1000, true)

	s := m.Stats()
	if s.Accuracy != 0 || s.AvgLatencyUS != 0 {
		t.Fatalf("feedback recorded with learning disabled: %+v", s)
	}
	if live, recorded := m.HistoryLen(); live != 0 || recorded != 0 {
		t.Fatalf("history written with learning disabled: %d live, %d recorded", live, recorded)
	}
}

func TestHistoryRingWraps(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, true)
	req := sampleRequest()
	pred := request.Prediction{}

	const total = HistoryCapacity + 5
	for i := 0; i < total; i++ {
		m.Feedback(&req, pred, uint32(i), true)
	}

	live, recorded := m.HistoryLen()
	if live != HistoryCapacity {
		t.Fatalf("live entries: got %d, want %d", live, HistoryCapacity)
	}
	if recorded != total {
		t.Fatalf("recorded entries: got %d, want %d", recorded, total)
	}
}

func TestPredictFailureEmptyHistory(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, true)
	req := sampleRequest()
	p, err := m.PredictFailure(&req)
	if err != nil {
		t.Fatalf("predict failure: %v", err)
	}
	if p != 0.5 {
		t.Fatalf("failure probability with no history: got %v, want 0.5", p)
	}
}

func TestPredictFailureFromHistory(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, true)
	read := request.Request{Type: request.IoRead, DeviceID: 1}
	write := request.Request{Type: request.IoWrite, DeviceID: 1}
	pred := request.Prediction{}

	m.Feedback(&read, pred, 100, true)
	m.Feedback(&read, pred, 100, false)
	m.Feedback(&read, pred, 100, false)
	m.Feedback(&read, pred, 100, false)
	m.Feedback(&write, pred, 100, true)

	p, err := m.PredictFailure(&read)
	if err != nil {
		t.Fatalf("predict failure: %v", err)
	}
	if p != 0.75 {
		t.Fatalf("failure probability: got %v, want 0.75", p)
	}

	p, err = m.PredictFailure(&write)
	if err != nil {
		t.Fatalf("predict failure: %v", err)
	}
	if p != 0 {
		t.Fatalf("failure probability for clean type: got %v, want 0", p)
	}
}

func TestOptimizeRequestAlignment(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, true)

	tests := []struct {
		name string
		typ  request.Type
		size uint32
		want uint32
	}{
		{"read below line", request.IoRead, 1, 64},
		{"read exact line", request.IoRead, 64, 64},
		{"read above line", request.IoRead, 65, 128},
		{"write rounds up", request.IoWrite, 100, 128},
		{"dma below page", request.DmaAlloc, 1, 4096},
		{"dma exact page", request.DmaAlloc, 4096, 4096},
		{"dma above page", request.DmaAlloc, 4097, 8192},
		{"interrupt untouched", request.Interrupt, 17, 17},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request.Request{Type: tt.typ, Size: tt.size}
			opt, err := m.OptimizeRequest(&req)
			if err != nil {
				t.Fatalf("optimize: %v", err)
			}
			if opt.Size != tt.want {
				t.Fatalf("size: got %d, want %d", opt.Size, tt.want)
			}
			if req.Size != tt.size {
				t.Fatalf("input mutated: %d", req.Size)
			}
		})
	}
}

func TestPredictBatchGrouping(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, true)
	reqs := []request.Request{
		{Type: request.IoRead, DeviceID: 1},
		{Type: request.IoWrite, DeviceID: 1},
		{Type: request.IoRead, DeviceID: 1},
		{Type: request.IoRead, DeviceID: 2},
		{Type: request.IoWrite, DeviceID: 1},
	}

	groups, n, err := m.PredictBatch(reqs)
	if err != nil {
		t.Fatalf("predict batch: %v", err)
	}
	want := []uint32{0, 1, 0, 2, 1}
	if n != 3 {
		t.Fatalf("group count: got %d, want 3", n)
	}
	for i := range want {
		if groups[i] != want[i] {
			t.Fatalf("groups: got %v, want %v", groups, want)
		}
	}
}

func TestCloseResetsState(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, true)
	req := sampleRequest()
	if _, err := m.Predict(&req); err != nil {
		t.Fatalf("predict: %v", err)
	}

	m.Close()
	if _, err := m.Predict(&req); err != ErrNotInitialized {
		t.Fatalf("predict after close: got %v, want %v", err, ErrNotInitialized)
	}

	if err := m.Init(Config{Seed: 42}); err != nil {
		t.Fatalf("re-init: %v", err)
	}
	if s := m.Stats(); s.RequestsProcessed != 0 {
		t.Fatalf("stats survived close: %+v", s)
	}
}

func TestExtractFeaturesValues(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, true)
	req := request.Request{
		Type:      request.IoWrite,
		DeviceID:  0x0201,
		Address:   0x1_0000 + 0x8000,
		Size:      2048,
		Flags:     0x0F,
		Timestamp: 4_500_000, // 0.5ms before the fixed clock
		Priority:  5,
	}

	m.mu.Lock()
	f := m.extractFeatures(&req)
	m.mu.Unlock()

	approx := func(got, want float32, name string) {
		t.Helper()
		if math.Abs(float64(got-want)) > 1e-5 {
			t.Fatalf("%s: got %v, want %v", name, got, want)
		}
	}
	approx(f[0], float32(request.IoWrite)/float32(request.Unknown), "type")
	approx(f[1], 1.0/255.0, "device low byte")
	approx(f[2], 2.0/255.0, "device high byte")
	approx(f[3], float32(0x8000)/65535.0, "address")
	approx(f[4], 0.5, "size")
	approx(f[5], 15.0/255.0, "flags")
	approx(f[6], 0.5, "priority")
	approx(f[7], 0.5, "age")
	approx(f[8], 0, "same-type fraction")
	approx(f[9], 0.5, "avg latency default")
	approx(f[17], f[7]*0.5, "padded feature")
}

func TestExtractFeaturesAgeClamped(t *testing.T) {
	t.Parallel()

	m := newTestModel(t, true)
	req := request.Request{Type: request.IoRead, Timestamp: 0} // 5ms old

	m.mu.Lock()
	f := m.extractFeatures(&req)
	m.mu.Unlock()

	if f[7] != 1.0 {
		t.Fatalf("age feature not clamped: %v", f[7])
	}
}
