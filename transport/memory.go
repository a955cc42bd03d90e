// Package transport supplies reference Transport implementations for
// the client facade. Neither is imported by the core aggregation
// packages themselves — they exist purely as usable collaborators for
// tests and the sample binary, keeping the core's transport boundary an
// interface rather than a concrete dependency.
package transport

import (
	"context"
	"sync"

	"github.com/Mindburn-Labs/quotacore/quotapb"
)

// InMemory is a same-process fake transport: it records every request
// it receives and completes immediately with a canned response (or
// error) supplied by the test. Grounded on the teacher codebase's
// in-memory store idiom (a mutex-guarded map standing in for a remote
// system) rather than anything resembling a real network call.
type InMemory struct {
	mu            sync.Mutex
	checkRequests []quotapb.CheckRequest
	reportRequests []quotapb.ReportRequest

	CheckResponse  quotapb.CheckResponse
	CheckErr       error
	ReportErr      error
}

// NewInMemory creates an InMemory transport that completes every call
// successfully with a zero-value response until configured otherwise.
func NewInMemory() *InMemory {
	return &InMemory{}
}

// Check implements a Transport for admission checks.
func (m *InMemory) Check(_ context.Context, req, resp any, done func(error)) {
	m.mu.Lock()
	m.checkRequests = append(m.checkRequests, req.(quotapb.CheckRequest))
	m.mu.Unlock()

	if r, ok := resp.(*quotapb.CheckResponse); ok {
		*r = m.CheckResponse
	}
	done(m.CheckErr)
}

// Report implements a Transport for telemetry reports.
func (m *InMemory) Report(_ context.Context, req, resp any, done func(error)) {
	m.mu.Lock()
	m.reportRequests = append(m.reportRequests, req.(quotapb.ReportRequest))
	m.mu.Unlock()

	done(m.ReportErr)
}

// CheckRequests returns a copy of every CheckRequest received so far.
func (m *InMemory) CheckRequests() []quotapb.CheckRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]quotapb.CheckRequest(nil), m.checkRequests...)
}

// ReportRequests returns a copy of every ReportRequest received so far.
func (m *InMemory) ReportRequests() []quotapb.ReportRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]quotapb.ReportRequest(nil), m.reportRequests...)
}
