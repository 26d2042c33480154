package api

// DTOs for the REST control surface. Field names follow the wire convention
// of the stats structs they mirror.

type RegisterDeviceReq struct {
	DeviceID uint32 `json:"device_id"`
	Chipset  string `json:"chipset"`
}

type RegisterDeviceResp struct {
	Token    string `json:"token"`
	DeviceID uint32 `json:"device_id"`
	Chipset  string `json:"chipset"`
}

type DeviceResp struct {
	Token          string `json:"token"`
	DeviceID       uint32 `json:"device_id"`
	Chipset        string `json:"chipset"`
	AIManaged      bool   `json:"ai_managed"`
	ActiveRequests int64  `json:"active_requests"`
}

type EnqueueReq struct {
	Token    string `json:"token"`
	Type     string `json:"type"`
	Address  uint64 `json:"address"`
	Size     uint32 `json:"size"`
	Flags    uint32 `json:"flags"`
	Priority uint32 `json:"priority"`
}

type EnqueueResp struct {
	Queued   bool `json:"queued"`
	QueueLen int  `json:"queue_len"`
}

type FeedbackReq struct {
	Token           string  `json:"token"`
	Type            string  `json:"type"`
	Decision        string  `json:"decision"`
	Confidence      float32 `json:"confidence"`
	ActualLatencyUS uint32  `json:"actual_latency_us"`
	Success         bool    `json:"success"`
}

type SnapshotReq struct {
	Path string `json:"path"`
}

type StatusResp struct {
	OK bool `json:"ok"`
}

type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type ErrorResp struct {
	Error ErrorBody `json:"error"`
}
