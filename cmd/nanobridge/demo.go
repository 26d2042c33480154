package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/nanobridge/internal/bridge"
	"github.com/samcharles93/nanobridge/internal/chipset"
	"github.com/samcharles93/nanobridge/internal/model"
	"github.com/samcharles93/nanobridge/internal/request"
)

func demoCmd() *cli.Command {
	return &cli.Command{
		Name:  "demo",
		Usage: "Run a self-contained demonstration workload",
		Flags: append(append(commonBridgeFlags(), chipsetFlags()...), loggingFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyBridgeConfig(cmd, LoadConfig())
			log := buildLogger()

			m, ok := bridge.ParseMode(mode)
			if !ok {
				return fmt.Errorf("unknown mode %q", mode)
			}

			b, err := bridge.New(bridge.Config{
				Mode:               m,
				AIEnabled:          aiEnabled,
				MaxPendingRequests: int(queueCap),
				BatchTimeout:       batchTimeout,
				ModelSeed:          modelSeed,
			}, &bridge.LoopbackForwarder{Delay: time.Millisecond, Log: log}, log)
			if err != nil {
				return err
			}
			if err := b.Start(); err != nil {
				return err
			}
			defer b.Shutdown()

			if aiEnabled {
				demoModel(b)
			}
			if err := demoBridge(b); err != nil {
				return err
			}
			demoDetection()
			return nil
		},
	}
}

var demoRequests = []request.Request{
	{Type: request.IoRead, DeviceID: 0x8086, Address: 0x1000, Size: 64, Priority: 5},
	{Type: request.IoWrite, DeviceID: 0x8086, Address: 0x2000, Size: 128, Priority: 7},
	{Type: request.DmaAlloc, DeviceID: 0x1022, Size: 4096, Priority: 10},
	{Type: request.PCIConfig, DeviceID: 0x10DE, Address: 0x100, Size: 4, Priority: 3},
}

// demoModel exercises prediction, feedback and optimization directly against
// the model.
func demoModel(b *bridge.Bridge) {
	fmt.Println("=== Decision Model ===")
	fmt.Println()

	for i := range demoRequests {
		req := demoRequests[i]
		req.Timestamp = model.NowNS()

		pred, err := b.Model().Predict(&req)
		if err != nil {
			fmt.Printf("request %d: predict failed: %v\n", i+1, err)
			continue
		}
		fmt.Printf("request %d: type=%s device=0x%x\n", i+1, req.Type, req.DeviceID)
		fmt.Printf("  decision: %s (confidence %.2f)\n", pred.Decision, pred.Confidence)
		fmt.Printf("  estimated latency: %d us\n", pred.EstimatedLatencyUS)
		fmt.Printf("  should batch: %v\n", pred.ShouldBatch)

		opt, err := b.Model().OptimizeRequest(&req)
		if err == nil && opt.Size != req.Size {
			fmt.Printf("  optimized size: %d -> %d\n", req.Size, opt.Size)
		}
		fmt.Println()

		// Feed the estimate back as if it came true, a little late.
		_ = b.SubmitFeedback(&req, pred, pred.EstimatedLatencyUS+100, true)
	}

	groups, n, err := b.Model().PredictBatch(demoRequests)
	if err == nil {
		fmt.Printf("batch grouping: %v (%d groups)\n", groups, n)
	}

	ms := b.Model().Stats()
	fmt.Println()
	fmt.Println("model statistics:")
	fmt.Printf("  requests processed: %d\n", ms.RequestsProcessed)
	fmt.Printf("  accuracy: %.2f%%\n", ms.Accuracy*100)
	fmt.Printf("  avg latency: %d us\n", ms.AvgLatencyUS)
	fmt.Println()
}

// demoBridge pushes the sample workload through the full enqueue/drain path.
func demoBridge(b *bridge.Bridge) error {
	fmt.Println("=== Bridge ===")
	fmt.Println()

	devices := make(map[uint32]*bridge.DeviceContext)
	for _, req := range demoRequests {
		if _, ok := devices[req.DeviceID]; ok {
			continue
		}
		ctx, err := b.RegisterDevice(req.DeviceID, chipset.ClassifyVendor(req.DeviceID), nil, nil)
		if err != nil {
			return err
		}
		devices[req.DeviceID] = ctx
	}

	for i := range demoRequests {
		req := demoRequests[i]
		req.Timestamp = model.NowNS()
		if err := b.EnqueueRequest(devices[req.DeviceID], &req); err != nil {
			return err
		}
	}

	// Give the worker a few batch windows to drain everything.
	deadline := time.Now().Add(2 * time.Second)
	for b.QueueLen() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	s := b.Stats()
	fmt.Println("bridge statistics:")
	fmt.Printf("  total requests: %d\n", s.TotalRequests)
	fmt.Printf("  forwarded to kernel: %d\n", s.ForwardedToKernel)
	fmt.Printf("  forwarded to caller: %d\n", s.ForwardedToCaller)
	fmt.Printf("  ai optimized: %d\n", s.AIOptimized)
	fmt.Printf("  ai batched: %d\n", s.AIBatched)
	fmt.Printf("  failures: %d\n", s.Failures)
	fmt.Printf("  ai accuracy: %.2f%%\n", s.AIAccuracy*100)
	fmt.Printf("  avg latency: %d us\n", s.AvgLatencyUS)
	fmt.Println()
	return nil
}

// demoDetection scans the PCI tree for known chipsets. On hosts without a
// readable sysfs this section just reports the error and moves on.
func demoDetection() {
	fmt.Println("=== Chipset Detection ===")
	fmt.Println()

	reg := chipset.NewRegistry(driversDir)
	drivers, err := reg.Detect()
	if err != nil {
		fmt.Printf("detection unavailable: %v\n", err)
		return
	}
	if len(drivers) == 0 {
		fmt.Println("no known chipsets found")
		return
	}
	for i, d := range drivers {
		fmt.Printf("%d. %s\n", i+1, d.Name)
		fmt.Printf("   vendor: %s\n", d.Vendor)
		fmt.Printf("   vid:did: 0x%04x:0x%04x\n", d.VendorID, d.DeviceID)
		fmt.Printf("   type: %s\n", d.Type)
		fmt.Printf("   driver: %s\n", d.DriverPath)
	}
}
