package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/roomlink-core/internal/xapi"
)

// connectRequest is the body of POST /devices.
type connectRequest struct {
	Host     string `json:"host"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type setRequest struct {
	Path  string `json:"path"`
	Value string `json:"value"`
}

type commandRequest struct {
	Command string            `json:"command"`
	Params  map[string]string `json:"params,omitempty"`
}

// xapiResponse wraps a node returned by the device.
type xapiResponse struct {
	Path   string     `json:"path"`
	Result *xapi.Node `json:"result"`
}

// decodeBody decodes a JSON body, rejecting unknown fields.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return errors.New("request body too large")
		}
		return errors.New("invalid JSON body")
	}
	return nil
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.registry.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleConnectDevice connects a device. A same-host session is replaced.
// A failed connect answers with the mapped error plus the failed session.
func (s *Server) handleConnectDevice(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(req.Host) == "" {
		writeBadRequest(w, "host is required")
		return
	}

	creds := xapi.Credentials{Host: req.Host, Username: req.Username, Password: req.Password}
	p, err := s.registry.ConnectDevice(r.Context(), creds)
	if err != nil {
		s.logger.Warn("device connect failed", "host", p.Host, "error_kind", xapi.Classify(err))
		writeConnectError(w, err, p)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleCurrentDevice(w http.ResponseWriter, _ *http.Request) {
	p, ok := s.registry.CurrentDevice()
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeSessionNotFound, "no device registered")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Lookup(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Projection())
}

func (s *Server) handleDisconnectDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.DisconnectDevice(chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReconnect connects an existing session again with its stored
// credentials.
func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Lookup(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := sess.Connect(r.Context()); err != nil {
		writeConnectError(w, err, sess.Projection())
		return
	}
	writeJSON(w, http.StatusOK, sess.Projection())
}

func (s *Server) handleDeviceInfo(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Service(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	info, err := sess.DeviceInfo()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleXAPIGet(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeBadRequest(w, "path query parameter is required")
		return
	}
	sess, err := s.registry.Service(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	node, err := sess.Get(r.Context(), path)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, xapiResponse{Path: path, Result: node})
}

func (s *Server) handleXAPISet(w http.ResponseWriter, r *http.Request) {
	var req setRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.Path == "" {
		writeBadRequest(w, "path is required")
		return
	}
	sess, err := s.registry.Service(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	node, err := sess.Set(r.Context(), req.Path, req.Value)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, xapiResponse{Path: req.Path, Result: node})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeBadRequest(w, "command is required")
		return
	}
	sess, err := s.registry.Service(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	node, err := sess.Execute(r.Context(), req.Command, req.Params)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, xapiResponse{Path: req.Command, Result: node})
}
