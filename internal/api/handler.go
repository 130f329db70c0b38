package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"campaign-sdk/internal/sdk"
	"campaign-sdk/internal/segment"
	"campaign-sdk/internal/session"
)

const maxBodyBytes = 1 << 20

// SDK is the instance the handlers drive.
type SDK interface {
	Track(ctx context.Context, req sdk.TrackRequest) (sdk.MatchResult, error)
	Evaluate(ctx context.Context, userID, event string) (sdk.MatchResult, error)
	Identify(ctx context.Context, userID string, props map[string]any) error
	SetDeviceProperties(ctx context.Context, userID string, props map[string]any) error
	EvaluateSegment(si segment.SegmentInfo, state segment.UserState) (bool, error)
	State() session.State
}

type Handler struct {
	SDK SDK
}

func NewHandler(s SDK) *Handler {
	return &Handler{SDK: s}
}

type propertiesRequest struct {
	UserID     string         `json:"user_id"`
	Properties map[string]any `json:"properties"`
}

type evaluateSegmentRequest struct {
	SegmentInfo segment.SegmentInfo `json:"segment_info"`
	State       segment.UserState   `json:"state"`
}

type evaluateSegmentResponse struct {
	Match bool   `json:"match"`
	Error string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if r.Context().Err() != nil {
		// the timeout middleware answers 504 for an expired request
		log.Debug().Err(err).Str("path", r.URL.Path).Msg("request context done")
		return
	}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, sdk.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		// an inner deadline, such as a store query timeout
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return errors.Join(sdk.ErrInvalidRequest, err)
	}
	return nil
}

func writeMatches(w http.ResponseWriter, res sdk.MatchResult) {
	if len(res.Campaigns) == 0 && len(res.Diagnostics) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) Track(w http.ResponseWriter, r *http.Request) {
	var req sdk.TrackRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.SDK.Track(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeMatches(w, res)
}

func (h *Handler) Match(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.SDK.Evaluate(r.Context(), q.Get("user"), strings.TrimSpace(q.Get("event")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeMatches(w, res)
}

func (h *Handler) Identify(w http.ResponseWriter, r *http.Request) {
	var req propertiesRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.SDK.Identify(r.Context(), req.UserID, req.Properties); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Device(w http.ResponseWriter, r *http.Request) {
	var req propertiesRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.SDK.SetDeviceProperties(r.Context(), req.UserID, req.Properties); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EvaluateSegment answers whether a supplied state matches a supplied
// targeting definition. Ambiguous definitions are rejected with 422.
func (h *Handler) EvaluateSegment(w http.ResponseWriter, r *http.Request) {
	var req evaluateSegmentRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ok, err := h.SDK.EvaluateSegment(req.SegmentInfo, req.State)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, evaluateSegmentResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, evaluateSegmentResponse{Match: ok})
}

func (h *Handler) Ready(w http.ResponseWriter, _ *http.Request) {
	state := h.SDK.State()
	status := http.StatusServiceUnavailable
	if state == session.StateReady || state == session.StateRefreshing {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]string{"state": string(state)})
}
