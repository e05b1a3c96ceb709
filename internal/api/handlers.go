package api

import (
	"context"
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"dex-trading-bot/internal/auth"
	"dex-trading-bot/internal/circuit"
	"dex-trading-bot/internal/order"
	"dex-trading-bot/internal/strategy"
)

func (s *Server) handleRiskMetrics(c *gin.Context) {
	successResponse(c, s.deps.Risk.GetMetrics())
}

func (s *Server) handleResetAllBreakers(c *gin.Context) {
	s.deps.Risk.ResetAllCircuitBreakers()
	s.logger.Warn().Str("operator", auth.Operator(c)).Msg("All circuit breakers reset")
	successResponse(c, s.deps.Risk.GetMetrics())
}

func (s *Server) handleResetBreaker(c *gin.Context) {
	reason, err := circuit.ParseReason(c.Param("reason"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	s.deps.Risk.ResetCircuitBreaker(reason)
	s.logger.Warn().Str("operator", auth.Operator(c)).Str("reason", string(reason)).Msg("Circuit breaker reset")
	successResponse(c, s.deps.Risk.GetMetrics())
}

type emergencyStopRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleEmergencyStop(c *gin.Context) {
	var req emergencyStopRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "operator request"
	}
	s.deps.Risk.TriggerEmergencyStop(req.Reason)
	s.logger.Error().Str("operator", auth.Operator(c)).Str("reason", req.Reason).Msg("Emergency stop requested")
	successResponse(c, s.deps.Risk.GetMetrics())
}

func (s *Server) handleResetEmergencyStop(c *gin.Context) {
	s.deps.Risk.ResetEmergencyStop()
	s.logger.Warn().Str("operator", auth.Operator(c)).Msg("Emergency stop reset")
	successResponse(c, s.deps.Risk.GetMetrics())
}

func (s *Server) handleEnableSystem(c *gin.Context) {
	s.deps.Risk.EnableSystem()
	s.logger.Warn().Str("operator", auth.Operator(c)).Msg("Trading enabled")
	successResponse(c, s.deps.Risk.GetMetrics())
}

func (s *Server) handleDisableSystem(c *gin.Context) {
	s.deps.Risk.DisableSystem()
	s.logger.Warn().Str("operator", auth.Operator(c)).Msg("Trading disabled")
	successResponse(c, s.deps.Risk.GetMetrics())
}

func (s *Server) handleGetStrategies(c *gin.Context) {
	successResponse(c, s.deps.Strategies.Statuses())
}

type toggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (s *Server) handleToggleStrategy(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	name := c.Param("name")
	if err := s.deps.Strategies.EnableStrategy(name, *req.Enabled); err != nil {
		errorResponse(c, strategyStatus(err), err.Error())
		return
	}
	s.logger.Info().Str("operator", auth.Operator(c)).Str("strategy", name).Bool("enabled", *req.Enabled).Msg("Strategy toggled")
	successResponse(c, s.deps.Strategies.Statuses())
}

type weightRequest struct {
	Weight float64 `json:"weight" binding:"required"`
}

func (s *Server) handleSetWeight(c *gin.Context) {
	var req weightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	name := c.Param("name")
	if err := s.deps.Strategies.SetStrategyWeight(name, req.Weight); err != nil {
		errorResponse(c, strategyStatus(err), err.Error())
		return
	}
	s.logger.Info().Str("operator", auth.Operator(c)).Str("strategy", name).Float64("weight", req.Weight).Msg("Strategy weight set")
	successResponse(c, s.deps.Strategies.Statuses())
}

func strategyStatus(err error) int {
	if errors.Is(err, strategy.ErrUnknownStrategy) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

func (s *Server) handleGetOrders(c *gin.Context) {
	orders := s.deps.Orders.Orders()
	if status := c.Query("status"); status != "" {
		filtered := orders[:0]
		for _, o := range orders {
			if string(o.Status) == status {
				filtered = append(filtered, o)
			}
		}
		orders = filtered
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	successResponse(c, orders)
}

func (s *Server) handleGetOrder(c *gin.Context) {
	o, err := s.deps.Orders.GetOrder(c.Param("signature"))
	if err != nil {
		errorResponse(c, orderStatus(err), err.Error())
		return
	}
	successResponse(c, o)
}

func (s *Server) handleCancelOrder(c *gin.Context) {
	signature := c.Param("signature")
	if err := s.deps.Orders.CancelOrder(signature); err != nil {
		errorResponse(c, orderStatus(err), err.Error())
		return
	}
	s.logger.Info().Str("operator", auth.Operator(c)).Str("signature", signature).Msg("Order cancel requested")
	s.respondOrder(c, signature)
}

type exitRequest struct {
	ExitType order.ExitType `json:"exit_type"`
}

func (s *Server) handleExitOrder(c *gin.Context) {
	var req exitRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	if req.ExitType == "" {
		req.ExitType = order.ExitManual
	}

	signature := c.Param("signature")
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.ExitTimeout)
	defer cancel()

	s.logger.Info().Str("operator", auth.Operator(c)).Str("signature", signature).Str("exit_type", string(req.ExitType)).Msg("Exit requested")
	if err := s.deps.Orders.ExitOrder(ctx, signature, req.ExitType); err != nil {
		errorResponse(c, orderStatus(err), err.Error())
		return
	}
	s.respondOrder(c, signature)
}

func (s *Server) respondOrder(c *gin.Context, signature string) {
	o, err := s.deps.Orders.GetOrder(signature)
	if err != nil {
		errorResponse(c, orderStatus(err), err.Error())
		return
	}
	successResponse(c, o)
}

func orderStatus(err error) int {
	switch {
	case errors.Is(err, order.ErrUnknownOrder):
		return http.StatusNotFound
	case errors.Is(err, order.ErrInvalidTransition), errors.Is(err, order.ErrExitInProgress):
		return http.StatusConflict
	case errors.Is(err, order.ErrNoExitBuilder):
		return http.StatusNotImplemented
	default:
		return http.StatusBadGateway
	}
}
