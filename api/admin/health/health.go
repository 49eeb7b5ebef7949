// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package health

import (
	"sync"
	"time"
)

type Status struct {
	Healthy       bool       `json:"healthy"`
	LastTick      *time.Time `json:"lastTick"`
	LastError     string     `json:"lastError,omitempty"`
	ApprovedCycle uint64     `json:"approvedCycle"`
}

// Health tracks the keeper loop. The loop is healthy while ticks keep coming
// and the last one succeeded.
type Health struct {
	lock          sync.RWMutex
	lastTick      time.Time
	lastErr       error
	approvedCycle uint64
}

// Tick records the outcome of one keeper loop iteration.
func (h *Health) Tick(approvedCycle uint64, err error) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.lastTick = time.Now()
	h.lastErr = err
	h.approvedCycle = approvedCycle
}

func (h *Health) Status(maxTimeBetweenTicks time.Duration) *Status {
	h.lock.RLock()
	defer h.lock.RUnlock()

	s := &Status{
		Healthy:       !h.lastTick.IsZero() && time.Since(h.lastTick) <= maxTimeBetweenTicks && h.lastErr == nil,
		ApprovedCycle: h.approvedCycle,
	}
	if !h.lastTick.IsZero() {
		t := h.lastTick
		s.LastTick = &t
	}
	if h.lastErr != nil {
		s.LastError = h.lastErr.Error()
	}
	return s
}
