package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/nanobridge/internal/portforward"
)

type RuleReq struct {
	Name     string `json:"name"`
	SrcAddr  string `json:"src_addr"`
	SrcPort  uint16 `json:"src_port"`
	DstAddr  string `json:"dst_addr"`
	DstPort  uint16 `json:"dst_port"`
	Protocol string `json:"protocol"`
	Flags    uint32 `json:"flags"`
}

type RuleCreatedResp struct {
	ID uint32 `json:"id"`
}

func (s *Server) registerRules(e *echo.Echo) {
	e.GET("/v1/rules", s.handleListRules)
	e.POST("/v1/rules", s.handleAddRule)
	e.GET("/v1/rules/stats", s.handleRuleStats)
	e.GET("/v1/rules/:id", s.handleGetRule)
	e.PUT("/v1/rules/:id", s.handleUpdateRule)
	e.DELETE("/v1/rules/:id", s.handleRemoveRule)
	e.POST("/v1/rules/:id/enable", s.handleEnableRule)
	e.POST("/v1/rules/:id/disable", s.handleDisableRule)
}

func parseProtocol(s string) (portforward.Protocol, bool) {
	switch s {
	case "tcp":
		return portforward.TCP, true
	case "udp":
		return portforward.UDP, true
	case "any", "":
		return portforward.AnyProtocol, true
	}
	return 0, false
}

func ruleID(c *echo.Context) (uint32, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(id), true
}

func (s *Server) ruleFromReq(c *echo.Context) (portforward.Rule, error) {
	req, err := decodeJSON[RuleReq](c.Request().Body)
	if err != nil {
		return portforward.Rule{}, err
	}
	proto, ok := parseProtocol(req.Protocol)
	if !ok {
		return portforward.Rule{}, errors.New("unknown protocol " + strconv.Quote(req.Protocol))
	}
	return portforward.Rule{
		Name:     req.Name,
		SrcAddr:  req.SrcAddr,
		SrcPort:  req.SrcPort,
		DstAddr:  req.DstAddr,
		DstPort:  req.DstPort,
		Protocol: proto,
		Flags:    req.Flags,
	}, nil
}

func (s *Server) handleListRules(c *echo.Context) error {
	return writeJSON(c, http.StatusOK, s.rules.ListRules())
}

func (s *Server) handleAddRule(c *echo.Context) error {
	rule, err := s.ruleFromReq(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	id, err := s.rules.AddRule(rule)
	if err != nil {
		switch {
		case errors.Is(err, portforward.ErrInvalidRule):
			return writeBadRequest(c, "invalid rule")
		case errors.Is(err, portforward.ErrLimit):
			return writeConflict(c, "rule limit reached")
		default:
			return writeInternal(c, err.Error())
		}
	}
	return writeJSON(c, http.StatusCreated, RuleCreatedResp{ID: id})
}

func (s *Server) handleGetRule(c *echo.Context) error {
	id, ok := ruleID(c)
	if !ok {
		return writeBadRequest(c, "invalid rule id")
	}
	rule, err := s.rules.GetRule(id)
	if err != nil {
		return writeNotFound(c, "unknown rule")
	}
	return writeJSON(c, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(c *echo.Context) error {
	id, ok := ruleID(c)
	if !ok {
		return writeBadRequest(c, "invalid rule id")
	}
	rule, err := s.ruleFromReq(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	if err := s.rules.UpdateRule(id, rule); err != nil {
		switch {
		case errors.Is(err, portforward.ErrNotFound):
			return writeNotFound(c, "unknown rule")
		case errors.Is(err, portforward.ErrInvalidRule):
			return writeBadRequest(c, "invalid rule")
		default:
			return writeInternal(c, err.Error())
		}
	}
	return writeJSON(c, http.StatusOK, StatusResp{OK: true})
}

func (s *Server) handleRemoveRule(c *echo.Context) error {
	id, ok := ruleID(c)
	if !ok {
		return writeBadRequest(c, "invalid rule id")
	}
	if err := s.rules.RemoveRule(id); err != nil {
		if errors.Is(err, portforward.ErrNotFound) {
			return writeNotFound(c, "unknown rule")
		}
		return writeInternal(c, err.Error())
	}
	return writeJSON(c, http.StatusOK, StatusResp{OK: true})
}

func (s *Server) handleEnableRule(c *echo.Context) error {
	return s.setRuleEnabled(c, true)
}

func (s *Server) handleDisableRule(c *echo.Context) error {
	return s.setRuleEnabled(c, false)
}

func (s *Server) setRuleEnabled(c *echo.Context, enabled bool) error {
	id, ok := ruleID(c)
	if !ok {
		return writeBadRequest(c, "invalid rule id")
	}
	var err error
	if enabled {
		err = s.rules.EnableRule(id)
	} else {
		err = s.rules.DisableRule(id)
	}
	if err != nil {
		if errors.Is(err, portforward.ErrNotFound) {
			return writeNotFound(c, "unknown rule")
		}
		return writeInternal(c, err.Error())
	}
	return writeJSON(c, http.StatusOK, StatusResp{OK: true})
}

func (s *Server) handleRuleStats(c *echo.Context) error {
	return writeJSON(c, http.StatusOK, s.rules.Stats())
}
