package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quickauth/server/internal/auth"
	"github.com/quickauth/server/internal/verification"
)

// Flow hosts one verification controller for a device.
type Flow struct {
	ID         string
	DeviceID   string
	Controller *verification.Controller

	// mu serializes completion so a profile is saved once per flow.
	mu          sync.Mutex
	result      *auth.Result
	resultToken string
	lastSeen    time.Time
}

// ResultFor returns the completed outcome for the credential token, if any.
// A new session in the same flow yields a new credential and no result.
func (f *Flow) ResultFor(token string) *auth.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.result == nil || token == "" || f.resultToken != token {
		return nil
	}
	return f.result
}

// FlowRegistry keeps live flows in memory and drops idle ones.
type FlowRegistry struct {
	mu            sync.Mutex
	flows         map[string]*Flow
	ttl           time.Duration
	newController func() *verification.Controller
	now           func() time.Time
	log           *zap.Logger
}

// NewFlowRegistry creates a registry whose flows expire after ttl without use.
func NewFlowRegistry(ttl time.Duration, newController func() *verification.Controller, log *zap.Logger) *FlowRegistry {
	if log == nil {
		log = zap.NewNop()
	}
	return &FlowRegistry{
		flows:         make(map[string]*Flow),
		ttl:           ttl,
		newController: newController,
		now:           time.Now,
		log:           log,
	}
}

// Create registers a new flow for deviceID.
func (r *FlowRegistry) Create(deviceID string) *Flow {
	f := &Flow{
		ID:         uuid.NewString(),
		DeviceID:   deviceID,
		Controller: r.newController(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	f.lastSeen = r.now()
	r.flows[f.ID] = f
	return f
}

// Get returns the flow if it exists and belongs to deviceID.
func (r *FlowRegistry) Get(id, deviceID string) (*Flow, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.flows[id]
	if !ok || f.DeviceID != deviceID {
		return nil, false
	}
	f.lastSeen = r.now()
	return f, true
}

// Remove detaches and forgets the flow.
func (r *FlowRegistry) Remove(id string) {
	r.mu.Lock()
	f, ok := r.flows[id]
	delete(r.flows, id)
	r.mu.Unlock()

	if ok {
		f.Controller.Detach()
	}
}

// RemoveDevice detaches every flow of deviceID.
func (r *FlowRegistry) RemoveDevice(deviceID string) {
	r.mu.Lock()
	var removed []*Flow
	for id, f := range r.flows {
		if f.DeviceID == deviceID {
			removed = append(removed, f)
			delete(r.flows, id)
		}
	}
	r.mu.Unlock()

	for _, f := range removed {
		f.Controller.Detach()
	}
}

// Len returns the number of live flows.
func (r *FlowRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flows)
}

// Sweep detaches flows idle longer than the ttl and returns how many it removed.
func (r *FlowRegistry) Sweep() int {
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	var expired []*Flow
	for id, f := range r.flows {
		if f.lastSeen.Before(cutoff) {
			expired = append(expired, f)
			delete(r.flows, id)
		}
	}
	r.mu.Unlock()

	for _, f := range expired {
		f.Controller.Detach()
	}
	if len(expired) > 0 {
		r.log.Debug("swept idle flows", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// Run sweeps periodically until ctx is done.
func (r *FlowRegistry) Run(ctx context.Context) {
	interval := r.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
