// Package bridge wires the bounded request queue, the decision model and the
// device registry into one bridging engine. Callers enqueue requests against
// registered devices; a single background worker drains the queue in batches,
// consults the model for each entry and forwards it to the injected kernel
// collaborator.
package bridge

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/nanobridge/internal/chipset"
	"github.com/samcharles93/nanobridge/internal/logger"
	"github.com/samcharles93/nanobridge/internal/model"
	"github.com/samcharles93/nanobridge/internal/queue"
	"github.com/samcharles93/nanobridge/internal/request"
)

const maxDevices = 256

var (
	ErrNotInitialized = errors.New("bridge: not initialized")
	ErrInvalidArg     = errors.New("bridge: invalid argument")
	ErrRegistryFull   = errors.New("bridge: device registry full")
	ErrNotFound       = errors.New("bridge: device not found")
)

// Mode selects how much authority the model has over request handling.
type Mode uint32

const (
	ModePassthrough Mode = iota // no model involvement
	ModeAIAssisted              // model suggests, caller confirms
	ModeAIAutonomous            // model decisions applied directly
	ModeLearning                // decisions applied and feedback recorded
)

func (m Mode) String() string {
	switch m {
	case ModePassthrough:
		return "passthrough"
	case ModeAIAssisted:
		return "ai_assisted"
	case ModeAIAutonomous:
		return "ai_autonomous"
	case ModeLearning:
		return "learning"
	default:
		return "invalid"
	}
}

// ParseMode maps a mode name back to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "passthrough":
		return ModePassthrough, true
	case "ai_assisted":
		return ModeAIAssisted, true
	case "ai_autonomous":
		return ModeAIAutonomous, true
	case "learning":
		return ModeLearning, true
	}
	return ModePassthrough, false
}

// Config carries the bridge construction parameters.
type Config struct {
	Mode               Mode
	AIEnabled          bool
	MaxPendingRequests int           // queue capacity, default 1024
	BatchTimeout       time.Duration // worker batch window, default 10ms
	ChipsetType        chipset.Type
	ModelSeed          int64
}

// DeviceContext correlates an external device with bridge-managed state. The
// registry owns every context; queue entries hold the same pointer so a drain
// that races an unregister still sees a live context.
type DeviceContext struct {
	Token       string // opaque registration handle for API callers
	DeviceID    uint32
	ChipsetType chipset.Type
	AIManaged   bool

	// External collaborator handles; the bridge never inspects them.
	WindowsDevice any
	LinuxDevice   any

	activeRequests atomic.Int64
}

// ActiveRequests reports how many of this device's requests are enqueued or
// awaiting a response.
func (c *DeviceContext) ActiveRequests() int64 {
	return c.activeRequests.Load()
}

// Forwarder is the outbound capability the worker invokes for each drained
// entry. Every forward counts as delivered; errors are logged but not
// retried.
type Forwarder interface {
	Forward(ctx *DeviceContext, req *request.Request) error
}

// Stats is the observable bridge state.
type Stats struct {
	TotalRequests     uint64  `json:"total_requests"`
	ForwardedToKernel uint64  `json:"forwarded_to_kernel"`
	ForwardedToCaller uint64  `json:"forwarded_to_caller"`
	AIOptimized       uint64  `json:"ai_optimized"`
	AIBatched         uint64  `json:"ai_batched"`
	Failures          uint64  `json:"failures"`
	AvgLatencyUS      uint32  `json:"avg_latency_us"`
	AIAccuracy        float32 `json:"ai_accuracy"`
}

type counters struct {
	totalRequests     atomic.Uint64
	forwardedToKernel atomic.Uint64
	forwardedToCaller atomic.Uint64
	aiOptimized       atomic.Uint64
	aiBatched         atomic.Uint64
	failures          atomic.Uint64
}

// Bridge is one bridging engine instance. Construct with New, call Start
// before use and Shutdown when done; every operation in between is safe to
// call concurrently with the worker and with each other.
type Bridge struct {
	cfg   Config
	log   logger.Logger
	model *model.Model
	queue *queue.Queue
	fwd   Forwarder

	mode atomic.Uint32

	regMu   sync.Mutex
	devices []*DeviceContext

	stats counters

	state       atomic.Uint32 // WorkerState
	initialized atomic.Bool
	shutdownCh  chan struct{}
	workerDone  chan struct{}
	cycles      atomic.Uint64
}

// New constructs a bridge. The forwarder must not be nil; the logger may be.
func New(cfg Config, fwd Forwarder, log logger.Logger) (*Bridge, error) {
	if fwd == nil {
		return nil, ErrInvalidArg
	}
	if log == nil {
		log = logger.Default()
	}
	if cfg.MaxPendingRequests <= 0 {
		cfg.MaxPendingRequests = queue.DefaultCapacity
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}

	b := &Bridge{
		cfg:   cfg,
		log:   log.With("component", "bridge"),
		model: model.New(),
		queue: queue.New(cfg.MaxPendingRequests),
		fwd:   fwd,
	}
	b.mode.Store(uint32(cfg.Mode))
	return b, nil
}

// Start initializes the model (when AI is enabled) and launches the batch
// worker. Idempotent: a started bridge stays started.
func (b *Bridge) Start() error {
	if b.initialized.Load() {
		return nil
	}

	if b.cfg.AIEnabled {
		learning := b.cfg.Mode == ModeLearning
		if err := b.model.Init(model.Config{LearningEnabled: learning, Seed: b.cfg.ModelSeed}); err != nil {
			return fmt.Errorf("bridge: init model: %w", err)
		}
		b.log.Info("model initialized", "learning", learning)
	}

	b.shutdownCh = make(chan struct{})
	b.workerDone = make(chan struct{})
	b.initialized.Store(true)
	go b.runWorker()

	b.log.Info("bridge started",
		"mode", b.cfg.Mode.String(),
		"chipset", b.cfg.ChipsetType.String(),
		"queue_capacity", b.queue.Cap(),
		"batch_timeout", b.cfg.BatchTimeout)
	return nil
}

// Shutdown stops the worker, waits for it to observe the signal and releases
// the model state. Devices still registered are dropped.
func (b *Bridge) Shutdown() {
	if !b.initialized.Load() {
		return
	}
	b.initialized.Store(false)

	close(b.shutdownCh)
	<-b.workerDone

	if b.cfg.AIEnabled {
		b.model.Close()
	}

	b.regMu.Lock()
	b.devices = nil
	b.regMu.Unlock()

	b.log.Info("bridge shut down")
}

// RegisterDevice adds a device to the registry and returns its context. The
// registry is bounded; when full the call fails with ErrRegistryFull.
func (b *Bridge) RegisterDevice(deviceID uint32, chipsetType chipset.Type, windowsDevice, linuxDevice any) (*DeviceContext, error) {
	if !b.initialized.Load() {
		return nil, ErrNotInitialized
	}

	b.regMu.Lock()
	defer b.regMu.Unlock()

	if len(b.devices) >= maxDevices {
		return nil, ErrRegistryFull
	}

	ctx := &DeviceContext{
		Token:         uuid.NewString(),
		DeviceID:      deviceID,
		ChipsetType:   chipsetType,
		AIManaged:     b.cfg.AIEnabled,
		WindowsDevice: windowsDevice,
		LinuxDevice:   linuxDevice,
	}
	b.devices = append(b.devices, ctx)

	b.log.Info("device registered", "device_id", fmt.Sprintf("0x%x", deviceID), "chipset", chipsetType.String())
	return ctx, nil
}

// UnregisterDevice removes a device from the registry. Entries already queued
// against the context keep their pointer and are still drained; the context
// just stops being reachable for new work.
func (b *Bridge) UnregisterDevice(ctx *DeviceContext) error {
	if !b.initialized.Load() {
		return ErrNotInitialized
	}
	if ctx == nil {
		return ErrInvalidArg
	}

	b.regMu.Lock()
	defer b.regMu.Unlock()

	for i, d := range b.devices {
		if d == ctx {
			b.devices = append(b.devices[:i], b.devices[i+1:]...)
			b.log.Info("device unregistered", "device_id", fmt.Sprintf("0x%x", ctx.DeviceID))
			return nil
		}
	}
	return ErrNotFound
}

// LookupDevice resolves a registration token to its context.
func (b *Bridge) LookupDevice(token string) (*DeviceContext, error) {
	if !b.initialized.Load() {
		return nil, ErrNotInitialized
	}

	b.regMu.Lock()
	defer b.regMu.Unlock()
	for _, d := range b.devices {
		if d.Token == token {
			return d, nil
		}
	}
	return nil, ErrNotFound
}

// Devices returns a snapshot of the registered contexts.
func (b *Bridge) Devices() []*DeviceContext {
	b.regMu.Lock()
	defer b.regMu.Unlock()
	out := make([]*DeviceContext, len(b.devices))
	copy(out, b.devices)
	return out
}

// EnqueueRequest submits a request for the given device. The queue owns a
// copy of the request; the caller may reuse theirs immediately. A full queue
// fails with queue.ErrQueueFull without blocking.
func (b *Bridge) EnqueueRequest(ctx *DeviceContext, req *request.Request) error {
	if !b.initialized.Load() {
		return ErrNotInitialized
	}
	if ctx == nil || req == nil {
		return ErrInvalidArg
	}
	if err := req.Validate(); err != nil {
		return err
	}

	b.stats.totalRequests.Add(1)

	if err := b.queue.Enqueue(queue.Entry{Request: *req, Context: ctx}); err != nil {
		b.stats.failures.Add(1)
		return err
	}
	ctx.activeRequests.Add(1)
	return nil
}

// SubmitFeedback reports the observed outcome for a prediction back to the
// model's statistics collector.
func (b *Bridge) SubmitFeedback(req *request.Request, pred request.Prediction, actualLatencyUS uint32, success bool) error {
	if !b.initialized.Load() {
		return ErrNotInitialized
	}
	if req == nil {
		return ErrInvalidArg
	}
	b.model.Feedback(req, pred, actualLatencyUS, success)
	return nil
}

// SendResponse delivers response data back toward the caller side and settles
// one of the device's active requests. Delivery is simulated; only counting
// is real.
func (b *Bridge) SendResponse(ctx *DeviceContext, data []byte) error {
	if !b.initialized.Load() {
		return ErrNotInitialized
	}
	if ctx == nil || data == nil {
		return ErrInvalidArg
	}

	b.stats.forwardedToCaller.Add(1)
	if ctx.activeRequests.Load() > 0 {
		ctx.activeRequests.Add(-1)
	}
	b.log.Debug("response sent", "device_id", fmt.Sprintf("0x%x", ctx.DeviceID), "bytes", len(data))
	return nil
}

// Stats assembles the observable bridge counters, folding in the model's
// accuracy and latency average when AI is enabled.
func (b *Bridge) Stats() Stats {
	s := Stats{
		TotalRequests:     b.stats.totalRequests.Load(),
		ForwardedToKernel: b.stats.forwardedToKernel.Load(),
		ForwardedToCaller: b.stats.forwardedToCaller.Load(),
		AIOptimized:       b.stats.aiOptimized.Load(),
		AIBatched:         b.stats.aiBatched.Load(),
		Failures:          b.stats.failures.Load(),
	}
	if b.cfg.AIEnabled {
		ms := b.model.Stats()
		s.AvgLatencyUS = ms.AvgLatencyUS
		s.AIAccuracy = ms.Accuracy
	}
	return s
}

// SetMode switches the bridge operating mode at runtime.
func (b *Bridge) SetMode(m Mode) error {
	if !b.initialized.Load() {
		return ErrNotInitialized
	}
	if m > ModeLearning {
		return ErrInvalidArg
	}
	b.mode.Store(uint32(m))
	b.log.Info("mode changed", "mode", m.String())
	return nil
}

// Mode reports the current operating mode.
func (b *Bridge) Mode() Mode {
	return Mode(b.mode.Load())
}

// Model exposes the decision model for snapshot and inspection operations.
func (b *Bridge) Model() *model.Model {
	return b.model
}

// QueueLen reports the number of requests waiting for the next drain.
func (b *Bridge) QueueLen() int {
	return b.queue.Len()
}

// ConfigureChipset applies a named chipset parameter for a device. The
// underlying register write is simulated; validation and bookkeeping are real.
func (b *Bridge) ConfigureChipset(ctx *DeviceContext, param string, value uint32) error {
	if !b.initialized.Load() {
		return ErrNotInitialized
	}
	if ctx == nil || param == "" {
		return ErrInvalidArg
	}
	b.log.Info("chipset configured",
		"device_id", fmt.Sprintf("0x%x", ctx.DeviceID),
		"param", param,
		"value", fmt.Sprintf("0x%x", value))
	return nil
}

// SetPowerState moves a device between power states D0..D3.
func (b *Bridge) SetPowerState(ctx *DeviceContext, state uint32) error {
	if !b.initialized.Load() {
		return ErrNotInitialized
	}
	if ctx == nil || state > 3 {
		return ErrInvalidArg
	}
	b.log.Info("power state changed",
		"device_id", fmt.Sprintf("0x%x", ctx.DeviceID),
		"state", fmt.Sprintf("D%d", state))
	return nil
}
