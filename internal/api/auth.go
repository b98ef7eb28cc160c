package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ashgrove/lumen-core/internal/bridge"
	"github.com/ashgrove/lumen-core/internal/session"
)

// pairDeviceType is the application identifier presented to the bridge
// during the pairing handshake.
const pairDeviceType = "lumen-core#panel"

// connectRequest is the body of POST /api/v1/auth/connect.
//
// Credential and Pair are mutually exclusive. With neither set, the
// stored credential for the bridge address is reused, which is how a
// second panel joins an already-paired bridge.
type connectRequest struct {
	BridgeAddress string `json:"bridge_address"`
	Credential    string `json:"credential,omitempty"`
	Pair          bool   `json:"pair,omitempty"`
}

// connectResponse is the body of a successful connect or renew.
type connectResponse struct {
	SessionToken  string    `json:"session_token,omitempty"`
	BridgeAddress string    `json:"bridge_address,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// handleConnect establishes a session against a bridge.
//
// The credential is resolved in order: explicit credential in the
// request, a fresh pairing handshake when pair is set, or the stored
// credential for the address. The resolved credential is verified with a
// live snapshot fetch before the session is returned, so a client never
// receives a token that the bridge will reject.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	if req.Credential != "" && req.Pair {
		writeBadRequest(w, "credential and pair are mutually exclusive")
		return
	}

	addr := req.BridgeAddress
	if addr == "" {
		addr = s.bridgeCfg.Address
	}
	if addr == "" {
		writeBadRequest(w, "bridge_address is required")
		return
	}

	if s.client == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUpstream,
			"no bridge client configured; demo mode is socket-only")
		return
	}

	cred := req.Credential
	if req.Pair {
		paired, err := s.client.Pair(r.Context(), addr, pairDeviceType)
		if err != nil {
			if errors.Is(err, bridge.ErrLinkButtonNotPressed) {
				writeError(w, http.StatusConflict, ErrCodeConflict,
					"press the bridge link button and retry")
				return
			}
			s.logger.Warn("pairing failed", "bridge", addr, "error", err)
			writeUpstreamError(w, "bridge pairing failed")
			return
		}
		cred = paired
	}

	sess, err := s.sessions.Create(r.Context(), addr, cred)
	if err != nil {
		if errors.Is(err, session.ErrNoCredential) {
			writeBadRequest(w, "no stored credential for this bridge; supply one or pair")
			return
		}
		s.logger.Error("session create failed", "bridge", addr, "error", err)
		writeInternalError(w, "failed to create session")
		return
	}

	if _, err := s.client.GetSnapshot(r.Context(), addr, sess.Credential); err != nil {
		s.sessions.Revoke(sess.Token)
		if errors.Is(err, bridge.ErrAuthRejected) {
			writeUnauthorized(w, "bridge rejected credential")
			return
		}
		s.logger.Warn("bridge verification failed", "bridge", addr, "error", err)
		writeUpstreamError(w, "bridge unreachable")
		return
	}

	s.logger.Info("session established", "bridge", addr)
	writeJSON(w, http.StatusOK, connectResponse{
		SessionToken:  sess.Token,
		BridgeAddress: sess.BridgeAddress,
		ExpiresAt:     sess.ExpiresAt,
	})
}

// handleRenew extends the expiry of the bearer session.
func (s *Server) handleRenew(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeUnauthorized(w, "missing session token")
		return
	}

	expiresAt, err := s.sessions.Renew(token)
	if err != nil {
		writeUnauthorized(w, "invalid or expired session")
		return
	}

	writeJSON(w, http.StatusOK, connectResponse{ExpiresAt: expiresAt})
}

// handleDisconnect revokes the bearer session. Revoking an unknown or
// already-revoked token succeeds, so disconnect is idempotent.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeUnauthorized(w, "missing session token")
		return
	}

	s.sessions.Revoke(token)
	w.WriteHeader(http.StatusNoContent)
}
