package manager

import (
	"time"

	"sessiond/pkg/types"
)

// Snapshot returns a read-only view of the manager state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		State:       m.state,
		Resident:    m.resident,
		Context:     m.current.kind(),
		TrackingIDs: m.current.tracking().IDs(),
		Err:         m.lastErr,
	}
}

// Status builds the manager part of the /status response. Tool call figures
// are filled in by the caller that owns them.
func (m *Manager) Status() types.StatusResponse {
	snap := m.Snapshot()
	idleAt := m.IdleDisposeAt()
	m.mu.RLock()
	loads, evictions, started := m.loads, m.evictions, m.startTime
	m.mu.RUnlock()
	now := time.Now()
	resp := types.StatusResponse{
		State:          string(snap.State),
		Context:        string(snap.Context),
		TrackingIDs:    snap.TrackingIDs,
		LoadsTotal:     loads,
		EvictionsTotal: evictions,
		LastError:      snap.Err,
		UptimeSeconds:  int64(now.Sub(started).Seconds()),
		ServerTimeUnix: now.Unix(),
	}
	if r := snap.Resident; r != nil {
		resp.Model = &types.ResidentStatus{
			ModelID:  r.Manifest.ID,
			Backend:  string(r.Backend),
			UseMMap:  r.Options.UseMMap,
			LoadedAt: r.LoadedAt.Unix(),
		}
	}
	if !idleAt.IsZero() {
		resp.IdleDisposeAtUnix = idleAt.Unix()
	}
	if m.queue != nil {
		resp.QueueLen = m.queue.Len()
		resp.Busy = m.queue.Busy()
	}
	return resp
}
