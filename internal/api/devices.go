package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hyqw-adapter/core/internal/device"
)

// handleListDevices returns every known device with its derived snapshot.
//
// Query parameters:
//   - kind: filter by device kind (light, air_conditioner, cover, ...)
//   - room: filter by room name
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	kindFilter := r.URL.Query().Get("kind")
	roomFilter := r.URL.Query().Get("room")

	snapshots := make([]device.Snapshot, 0, s.registry.Count())
	for _, d := range s.registry.All() {
		if kindFilter != "" && d.Kind() != kindFilter {
			continue
		}
		if roomFilter != "" && d.Room != roomFilter {
			continue
		}
		snapshots = append(snapshots, s.snapshotFor(d.SI))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": snapshots,
		"count":   len(snapshots),
	})
}

// handleGetDevice returns one device snapshot by its device index.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	si, err := strconv.Atoi(chi.URLParam(r, "si"))
	if err != nil {
		writeBadRequest(w, "device index must be an integer")
		return
	}

	if _, ok := s.registry.Get(si); !ok {
		writeNotFound(w, "device not found")
		return
	}

	writeJSON(w, http.StatusOK, s.snapshotFor(si))
}

// snapshotFor joins registry metadata with the cached states for a device.
// Registered devices with no cached state yet yield a snapshot with empty
// states and all-nil properties.
func (s *Server) snapshotFor(si int) device.Snapshot {
	states, _ := s.cache.DeviceState(si)
	snap, _ := s.registry.SnapshotFor(si, states)
	return snap
}
