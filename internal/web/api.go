package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"indoornav/internal/engine"
	"indoornav/internal/recal"
)

const maxBodyBytes = 64 << 10

type api struct {
	nav   Navigator
	guide *recal.Guide
	log   *slog.Logger
}

type errorResponse struct {
	Error string `json:"error"`
	// Message is the user-facing text for recalibration failures.
	Message string `json:"message,omitempty"`
}

type sessionRequest struct {
	Start       *engine.Position    `json:"start"`
	Destination *engine.Destination `json:"destination"`
}

type recalibrationRequest struct {
	Payload string      `json:"payload"`
	Region  *recal.Rect `json:"region,omitempty"`
}

var errRegionRejected = errors.New("marker is outside the capture guide")

// statusFor maps engine and resolver errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, recal.ErrMalformedPayload),
		errors.Is(err, recal.ErrNoUniqueMatch),
		errors.Is(err, recal.ErrBuildingMismatch),
		errors.Is(err, errRegionRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrInvalidSessionState),
		errors.Is(err, engine.ErrNoSession),
		errors.Is(err, engine.ErrSensorUnavailable):
		return http.StatusConflict
	case errors.Is(err, engine.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrClosed),
		errors.Is(err, engine.ErrNotStarted):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (a *api) fail(w http.ResponseWriter, err error) {
	code := statusFor(err)
	resp := errorResponse{Error: err.Error()}
	if code == http.StatusUnprocessableEntity {
		resp.Message = recal.FailureMessage(err)
	}
	if code >= 500 {
		a.log.Warn("api request failed", "err", err)
	}
	writeJSON(w, code, resp)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

func writeOK(w http.ResponseWriter, snap engine.Snapshot) {
	writeJSON(w, http.StatusOK, struct {
		OK       bool            `json:"ok"`
		Snapshot engine.Snapshot `json:"snapshot"`
	}{OK: true, Snapshot: snap})
}

// post wraps a body-less control call.
func (a *api) post(fn func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), controlTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			a.fail(w, err)
			return
		}
		writeOK(w, a.nav.Snapshot())
	}
}

func (a *api) session(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), controlTimeout)
	defer cancel()

	switch r.Method {
	case http.MethodPost:
		var req sessionRequest
		if err := decodeBody(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		if req.Start == nil || req.Destination == nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "start and destination are required"})
			return
		}
		if err := a.nav.BeginSession(ctx, *req.Start, *req.Destination); err != nil {
			a.fail(w, err)
			return
		}
		writeOK(w, a.nav.Snapshot())
	case http.MethodDelete:
		if err := a.nav.EndSession(ctx); err != nil {
			a.fail(w, err)
			return
		}
		writeOK(w, a.nav.Snapshot())
	default:
		w.Header().Set("Allow", "POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// cancelCapture leaves capture mode and resumes the sensor streams.
func (a *api) cancelCapture(ctx context.Context) error {
	if err := a.nav.StopRecalibrationCapture(ctx); err != nil {
		return err
	}
	return a.nav.StartSensors(ctx)
}

func (a *api) recalibrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req recalibrationRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if req.Region != nil && a.guide != nil && !a.guide.Accepts(*req.Region) {
		a.fail(w, errRegionRejected)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), controlTimeout)
	defer cancel()
	res, err := a.nav.Recalibrate(ctx, req.Payload)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK       bool            `json:"ok"`
		Result   recal.Result    `json:"result"`
		Snapshot engine.Snapshot `json:"snapshot"`
	}{OK: true, Result: res, Snapshot: a.nav.Snapshot()})
}
