package control

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/core-tools/hsu-zapret-go/pkg/errors"
	"github.com/core-tools/hsu-zapret-go/pkg/events"
	"github.com/core-tools/hsu-zapret-go/pkg/lifecycle"

	"github.com/gin-gonic/gin"
)

const (
	eventBufferSize   = 256
	keepAliveInterval = 15 * time.Second
)

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "UP",
		"service": "zapretd",
	})
}

func (s *Server) statusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.service.Status())
}

func (s *Server) startHandler(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "mode is required"})
		return
	}
	mode, err := lifecycle.ParseMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	s.respond(c, s.service.StartOperation(operationContext(c), mode))
}

func (s *Server) stopHandler(c *gin.Context) {
	s.respond(c, s.service.StopOperation(operationContext(c)))
}

func (s *Server) updateHandler(c *gin.Context) {
	s.respond(c, s.service.UpdateOperation(operationContext(c)))
}

func (s *Server) configHandler(c *gin.Context) {
	var req ConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	ipset, err := lifecycle.ParseIpsetMode(req.Ipset)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	s.respond(c, s.service.ApplyConfigOperation(ipset, req.GameFilter))
}

func (s *Server) probeAllHandler(c *gin.Context) {
	results := s.service.TestAll(c.Request.Context())
	c.JSON(http.StatusOK, ProbeResponse{Results: results})
}

func (s *Server) probeHandler(c *gin.Context) {
	result := s.service.Test(c.Request.Context(), c.Param("target"))
	if errors.IsType(result.Err, errors.ErrorTypeUnknownTarget) {
		c.JSON(http.StatusNotFound, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// eventsHandler streams log and state events as server-sent events until the client goes away
func (s *Server) eventsHandler(c *gin.Context) {
	bus := s.service.Bus()
	logs := events.LogChannel(bus, eventBufferSize)
	defer logs.Cancel()
	states := events.StateChannel(bus, eventBufferSize)
	defer states.Cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(EventStatus, s.service.Status())
	c.Writer.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	done := c.Request.Context().Done()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-logs.C:
			if !ok {
				return false
			}
			c.SSEvent(EventLog, event)
		case event, ok := <-states.C:
			if !ok {
				return false
			}
			c.SSEvent(EventState, event)
		case now := <-ticker.C:
			c.SSEvent(EventPing, now.Unix())
		case <-done:
			return false
		}
		return true
	})

	if dropped := logs.Dropped() + states.Dropped(); dropped > 0 {
		s.logger.Warnf("Event stream closed with dropped events, remote: %s, dropped: %d", c.ClientIP(), dropped)
	}
}

func (s *Server) respond(c *gin.Context, record lifecycle.OperationRecord) {
	resp := OperationResponse{
		OK:       record.Success,
		Running:  record.Running,
		Rejected: record.Rejected,
		Error:    record.Error,
	}
	if !record.Success {
		c.JSON(http.StatusConflict, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// operationContext detaches a lifecycle operation from client disconnects
func operationContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}
