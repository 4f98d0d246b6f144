package control

import (
	"context"

	"github.com/core-tools/hsu-zapret-go/pkg/connectivity"
	"github.com/core-tools/hsu-zapret-go/pkg/events"
	"github.com/core-tools/hsu-zapret-go/pkg/lifecycle"
)

// Service is the part of the lifecycle manager exposed over HTTP
type Service interface {
	StartOperation(ctx context.Context, mode lifecycle.Mode) lifecycle.OperationRecord
	StopOperation(ctx context.Context) lifecycle.OperationRecord
	UpdateOperation(ctx context.Context) lifecycle.OperationRecord
	ApplyConfigOperation(ipset lifecycle.IpsetMode, gameFilter bool) lifecycle.OperationRecord
	Test(ctx context.Context, target string) *connectivity.ProbeResult
	TestAll(ctx context.Context) []*connectivity.ProbeResult
	Status() lifecycle.Status
	Bus() *events.Bus
}

type StartRequest struct {
	Mode string `json:"mode" binding:"required"`
}

type ConfigRequest struct {
	Ipset      string `json:"ipset"`
	GameFilter bool   `json:"game_filter"`
}

// OperationResponse is returned by every lifecycle operation
type OperationResponse struct {
	OK       bool   `json:"ok"`
	Running  bool   `json:"running"`
	Rejected bool   `json:"rejected,omitempty"`
	Error    string `json:"error,omitempty"`
}

type ProbeResponse struct {
	Results []*connectivity.ProbeResult `json:"results"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// SSE event names on /api/v1/events
const (
	EventStatus = "status"
	EventLog    = "log"
	EventState  = "state"
	EventPing   = "ping"
)
