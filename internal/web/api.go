package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sweeney/valve-panel/internal/logger"
	"github.com/sweeney/valve-panel/internal/metrics"
	"github.com/sweeney/valve-panel/internal/status"
	"github.com/sweeney/valve-panel/internal/valve"
)

const (
	msgInvalidValve  = "Invalid gate valve number."
	msgStateRequired = "State value is required."
	msgInvalidBody   = "Request body must be a JSON object."
)

var errMissingField = errors.New("missing field")

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type statusResponse struct {
	Success bool               `json:"success"`
	Relays  []status.ValveJSON `json:"relays"`
}

type valveResponse struct {
	Success bool             `json:"success"`
	Relay   status.ValveJSON `json:"relay"`
}

type stateResponse struct {
	Success  bool   `json:"success"`
	RelayNum int    `json:"relay_num"`
	State    bool   `json:"state"`
	Message  string `json:"message"`
}

type lockResponse struct {
	Success  bool   `json:"success"`
	RelayNum int    `json:"relay_num"`
	Locked   bool   `json:"locked"`
	Message  string `json:"message"`
}

type setRequest struct {
	State *bool `json:"state"`
}

type lockRequest struct {
	Locked *bool `json:"locked"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.statusPayload(r.Context()))
}

// statusPayload is shared by /api/relay/status and the websocket stream.
func (s *Server) statusPayload(ctx context.Context) any {
	return statusResponse{
		Success: true,
		Relays:  status.NewValvesJSON(s.registry.StatusAll(ctx)),
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	index, ok := s.valveIndex(w, r)
	if !ok {
		return
	}
	v, err := s.registry.Get(r.Context(), index)
	if err != nil {
		s.writeError(w, r, v, err)
		return
	}
	writeJSON(w, http.StatusOK, valveResponse{Success: true, Relay: status.NewValveJSON(v)})
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	index, ok := s.valveIndex(w, r)
	if !ok {
		return
	}
	v, err := s.registry.ToggleOpen(r.Context(), index)
	if err != nil {
		s.writeError(w, r, v, err)
		return
	}
	writeJSON(w, http.StatusOK, newStateResponse(v))
}

func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	var req setRequest
	if err := decodeBody(r, &req); err != nil || req.State == nil {
		s.reject("", metrics.ReasonBadRequest)
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: msgStateRequired})
		return
	}

	index, ok := s.valveIndex(w, r)
	if !ok {
		return
	}
	v, err := s.registry.SetOpen(r.Context(), index, *req.State)
	if err != nil {
		s.writeError(w, r, v, err)
		return
	}
	writeJSON(w, http.StatusOK, newStateResponse(v))
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	index, ok := s.valveIndex(w, r)
	if !ok {
		return
	}

	var req lockRequest
	err := decodeBody(r, &req)
	switch {
	case errors.Is(err, errMissingField):
		// empty body toggles
	case err != nil:
		s.reject("", metrics.ReasonBadRequest)
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: msgInvalidBody})
		return
	}

	var v valve.Valve
	if req.Locked != nil {
		v, err = s.registry.SetLock(r.Context(), index, *req.Locked)
	} else {
		v, err = s.registry.ToggleLock(r.Context(), index)
	}
	if err != nil {
		s.writeError(w, r, v, err)
		return
	}
	writeJSON(w, http.StatusOK, lockResponse{
		Success:  true,
		RelayNum: v.Index,
		Locked:   v.Locked,
		Message:  v.Name + " " + v.LockText(),
	})
}

func (s *Server) handleAll(open bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := s.registry.SetOpenAll(r.Context(), open)
		if err != nil {
			failed := s.registry.Names(failedIndices(s.registry.Len(), res))
			for _, name := range failed {
				s.reject(name, metrics.ReasonDriver)
			}
			writeJSON(w, http.StatusInternalServerError, messageResponse{
				Message: strings.Join(failed, ", ") + " could not be driven.",
			})
			return
		}

		text := "Close"
		if open {
			text = "Open"
		}
		msg := fmt.Sprintf("All gate valves are %s.", text)
		if skipped := s.registry.Names(res.SkippedLocked); len(skipped) > 0 {
			msg += fmt.Sprintf(" (Locked gate valves: %s)", strings.Join(skipped, ", "))
		}
		writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: msg})
	}
}

// valveIndex parses {n}. On failure it writes the 400 response.
func (s *Server) valveIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		s.reject("", metrics.ReasonOutOfRange)
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: msgInvalidValve})
		return 0, false
	}
	return index, true
}

// writeError maps registry errors to status codes. v is the valve returned
// alongside err and is empty for out-of-range indices.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, v valve.Valve, err error) {
	switch {
	case errors.Is(err, valve.ErrOutOfRange):
		s.reject("", metrics.ReasonOutOfRange)
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: msgInvalidValve})
	case errors.Is(err, valve.ErrLocked):
		s.reject(v.Name, metrics.ReasonLocked)
		writeJSON(w, http.StatusForbidden, messageResponse{
			Message: v.Name + " is locked and cannot be controlled.",
		})
	case errors.Is(err, valve.ErrDriver):
		s.reject(v.Name, metrics.ReasonDriver)
		writeJSON(w, http.StatusInternalServerError, messageResponse{
			Message: v.Name + " could not be driven.",
		})
	default:
		logger.ErrorKV(r.Context(), "Unexpected registry error", "error", err)
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Internal error."})
	}
}

func (s *Server) reject(name, reason string) {
	if s.metrics != nil {
		s.metrics.Rejected(name, reason)
	}
}

func newStateResponse(v valve.Valve) stateResponse {
	return stateResponse{
		Success:  true,
		RelayNum: v.Index,
		State:    v.Open,
		Message:  v.Name + " " + v.StatusText(),
	}
}

// failedIndices returns the indices neither updated nor skipped.
func failedIndices(n int, res valve.BatchResult) []int {
	seen := make(map[int]bool, len(res.Updated)+len(res.SkippedLocked))
	for _, i := range res.Updated {
		seen[i] = true
	}
	for _, i := range res.SkippedLocked {
		seen[i] = true
	}
	var out []int
	for i := 0; i < n; i++ {
		if !seen[i] {
			out = append(out, i)
		}
	}
	return out
}

// decodeBody decodes a JSON object from r. An empty body returns
// errMissingField.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return errMissingField
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return errMissingField
	}
	return err
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
