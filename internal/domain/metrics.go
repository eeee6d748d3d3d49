package domain

import "time"

// Metrics is the observation surface the infra components report into.
// Implementations must be safe for concurrent use.
type Metrics interface {
	ObserveChat(serverID, status string, duration time.Duration)
	ObserveSessionConnect(serverID string, duration time.Duration, err error)
	ObserveSessionDisconnect(serverID, reason string)
	SetActiveSessions(serverID string, count int)
	ObserveToolCall(serverID, tool, status string, duration time.Duration)
	ObserveModelCall(model string, duration time.Duration, err error)
	ObserveModelTokens(model string, prompt, completion int)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) ObserveChat(string, string, time.Duration)               {}
func (NopMetrics) ObserveSessionConnect(string, time.Duration, error)      {}
func (NopMetrics) ObserveSessionDisconnect(string, string)                 {}
func (NopMetrics) SetActiveSessions(string, int)                           {}
func (NopMetrics) ObserveToolCall(string, string, string, time.Duration)   {}
func (NopMetrics) ObserveModelCall(string, time.Duration, error)           {}
func (NopMetrics) ObserveModelTokens(string, int, int)                     {}
