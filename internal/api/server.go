// Package api exposes the bridge and the forwarding rule table over a small
// REST surface.
package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/nanobridge/internal/bridge"
	"github.com/samcharles93/nanobridge/internal/chipset"
	"github.com/samcharles93/nanobridge/internal/logger"
	"github.com/samcharles93/nanobridge/internal/model"
	"github.com/samcharles93/nanobridge/internal/portforward"
	"github.com/samcharles93/nanobridge/internal/queue"
	"github.com/samcharles93/nanobridge/internal/request"
)

// Server holds the handlers for one bridge instance.
type Server struct {
	bridge *bridge.Bridge
	rules  *portforward.Table
	log    logger.Logger
}

// NewServer creates the API server. The rule table may be nil, in which case
// the /v1/rules routes are not registered.
func NewServer(b *bridge.Bridge, rules *portforward.Table, log logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{bridge: b, rules: rules, log: log.With("component", "api")}
}

// Register mounts all routes on the echo instance.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/stats", s.handleStats)

	e.GET("/v1/devices", s.handleListDevices)
	e.POST("/v1/devices", s.handleRegisterDevice)
	e.DELETE("/v1/devices/:token", s.handleUnregisterDevice)

	e.POST("/v1/requests", s.handleEnqueue)
	e.POST("/v1/feedback", s.handleFeedback)

	e.POST("/v1/model/save", s.handleModelSave)
	e.POST("/v1/model/load", s.handleModelLoad)

	if s.rules != nil {
		s.registerRules(e)
	}
}

func (s *Server) handleStats(c *echo.Context) error {
	return writeJSON(c, http.StatusOK, s.bridge.Stats())
}

func (s *Server) handleListDevices(c *echo.Context) error {
	devices := s.bridge.Devices()
	out := make([]DeviceResp, len(devices))
	for i, d := range devices {
		out[i] = DeviceResp{
			Token:          d.Token,
			DeviceID:       d.DeviceID,
			Chipset:        d.ChipsetType.String(),
			AIManaged:      d.AIManaged,
			ActiveRequests: d.ActiveRequests(),
		}
	}
	return writeJSON(c, http.StatusOK, out)
}

func (s *Server) handleRegisterDevice(c *echo.Context) error {
	req, err := decodeJSON[RegisterDeviceReq](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	ctx, err := s.bridge.RegisterDevice(req.DeviceID, chipset.ParseType(req.Chipset), nil, nil)
	if err != nil {
		switch {
		case errors.Is(err, bridge.ErrRegistryFull):
			return writeConflict(c, "device registry full")
		case errors.Is(err, bridge.ErrNotInitialized):
			return writeInternal(c, "bridge not running")
		default:
			return writeInternal(c, err.Error())
		}
	}

	return writeJSON(c, http.StatusCreated, RegisterDeviceResp{
		Token:    ctx.Token,
		DeviceID: ctx.DeviceID,
		Chipset:  ctx.ChipsetType.String(),
	})
}

func (s *Server) handleUnregisterDevice(c *echo.Context) error {
	ctx, err := s.bridge.LookupDevice(c.Param("token"))
	if err != nil {
		return writeNotFound(c, "unknown device token")
	}
	if err := s.bridge.UnregisterDevice(ctx); err != nil {
		return writeNotFound(c, "unknown device token")
	}
	return writeJSON(c, http.StatusOK, StatusResp{OK: true})
}

func (s *Server) handleEnqueue(c *echo.Context) error {
	req, err := decodeJSON[EnqueueReq](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	ctx, err := s.bridge.LookupDevice(req.Token)
	if err != nil {
		return writeNotFound(c, "unknown device token")
	}

	r := request.Request{
		Type:      request.ParseType(req.Type),
		DeviceID:  ctx.DeviceID,
		Address:   req.Address,
		Size:      req.Size,
		Flags:     req.Flags,
		Timestamp: model.NowNS(),
		Priority:  req.Priority,
	}
	if err := s.bridge.EnqueueRequest(ctx, &r); err != nil {
		switch {
		case errors.Is(err, queue.ErrQueueFull):
			return writeConflict(c, "request queue full")
		case errors.Is(err, request.ErrInvalidRequest):
			return writeBadRequest(c, "invalid request fields")
		default:
			return writeInternal(c, err.Error())
		}
	}

	return writeJSON(c, http.StatusAccepted, EnqueueResp{Queued: true, QueueLen: s.bridge.QueueLen()})
}

func (s *Server) handleFeedback(c *echo.Context) error {
	req, err := decodeJSON[FeedbackReq](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	ctx, err := s.bridge.LookupDevice(req.Token)
	if err != nil {
		return writeNotFound(c, "unknown device token")
	}

	r := request.Request{
		Type:     request.ParseType(req.Type),
		DeviceID: ctx.DeviceID,
	}
	pred := request.Prediction{
		Confidence: req.Confidence,
	}
	for d := request.PassThrough; int(d) < request.DecisionCount; d++ {
		if d.String() == req.Decision {
			pred.Decision = d
			break
		}
	}

	if err := s.bridge.SubmitFeedback(&r, pred, req.ActualLatencyUS, req.Success); err != nil {
		return writeInternal(c, err.Error())
	}
	return writeJSON(c, http.StatusOK, StatusResp{OK: true})
}

func (s *Server) handleModelSave(c *echo.Context) error {
	req, err := decodeJSON[SnapshotReq](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.Path == "" {
		return writeBadRequest(c, "path required")
	}
	if err := s.bridge.Model().Save(req.Path); err != nil {
		return writeInternal(c, err.Error())
	}
	return writeJSON(c, http.StatusOK, StatusResp{OK: true})
}

func (s *Server) handleModelLoad(c *echo.Context) error {
	req, err := decodeJSON[SnapshotReq](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.Path == "" {
		return writeBadRequest(c, "path required")
	}
	if err := s.bridge.Model().Load(req.Path); err != nil {
		if errors.Is(err, model.ErrModelCorrupt) {
			return writeBadRequest(c, err.Error())
		}
		return writeInternal(c, err.Error())
	}
	return writeJSON(c, http.StatusOK, StatusResp{OK: true})
}
