package bridge

import (
	"fmt"
	"time"

	"github.com/samcharles93/nanobridge/internal/logger"
	"github.com/samcharles93/nanobridge/internal/request"
)

// ForwarderFunc adapts a function to the Forwarder interface.
type ForwarderFunc func(ctx *DeviceContext, req *request.Request) error

func (f ForwarderFunc) Forward(ctx *DeviceContext, req *request.Request) error {
	return f(ctx, req)
}

// LoopbackForwarder services every request in-process with an optional fixed
// delay. It stands in for the kernel side when there is no real driver to
// talk to, which is every deployment that is not a kernel module.
type LoopbackForwarder struct {
	Delay time.Duration
	Log   logger.Logger
}

func (l *LoopbackForwarder) Forward(ctx *DeviceContext, req *request.Request) error {
	if l.Delay > 0 {
		time.Sleep(l.Delay)
	}
	if l.Log != nil {
		deviceID := uint32(0)
		if ctx != nil {
			deviceID = ctx.DeviceID
		}
		l.Log.Debug("loopback forward",
			"device_id", fmt.Sprintf("0x%x", deviceID),
			"type", req.Type.String(),
			"size", req.Size)
	}
	return nil
}
