package api

import (
	"errors"
	"net/http"

	"github.com/ashgrove/lumen-core/internal/bridge"
)

// handleListLights returns the current state of all lights.
//
// Lights are always fetched fresh from the bridge; the socket poll loop
// is the caching story, not this endpoint.
func (s *Server) handleListLights(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.fetchSnapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"lights": snap.LightList(),
	})
}

// handleListMotionZones returns the current state of all motion zones.
func (s *Server) handleListMotionZones(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.fetchSnapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"motion_zones": snap.MotionZoneList(),
	})
}

// handleListRooms returns the room and zone groupings. Served from the
// client's TTL cache since room topology changes rarely.
func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "missing session")
		return
	}
	if s.client == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUpstream, "no bridge client configured")
		return
	}

	rooms, err := s.client.GetRooms(r.Context(), sess.BridgeAddress, sess.Credential)
	if err != nil {
		s.writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rooms": rooms,
	})
}

// handleDiagnostics reports live socket connections and session counts
// for operational visibility.
func (s *Server) handleDiagnostics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"connections": s.push.Stats(),
		"count":       s.push.Count(),
		"sessions":    s.sessions.Count(),
	})
}

// fetchSnapshot resolves the request session and fetches a fresh
// snapshot, writing the appropriate error response on failure.
func (s *Server) fetchSnapshot(w http.ResponseWriter, r *http.Request) (*bridge.Snapshot, bool) {
	sess, ok := sessionFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "missing session")
		return nil, false
	}
	if s.client == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUpstream, "no bridge client configured")
		return nil, false
	}

	snap, err := s.client.GetSnapshot(r.Context(), sess.BridgeAddress, sess.Credential)
	if err != nil {
		s.writeBridgeError(w, err)
		return nil, false
	}
	return snap, true
}

// writeBridgeError maps bridge errors onto HTTP responses.
func (s *Server) writeBridgeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bridge.ErrAuthRejected):
		writeUnauthorized(w, "bridge rejected credential")
	default:
		s.logger.Warn("bridge request failed", "error", err)
		writeUpstreamError(w, "bridge unreachable")
	}
}
