package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/Jeong-dawon/MultiFlexer/internal/core"
	"github.com/Jeong-dawon/MultiFlexer/internal/layout"
	"github.com/Jeong-dawon/MultiFlexer/internal/loop"
	"github.com/Jeong-dawon/MultiFlexer/internal/registry"
)

type ModeRequest struct {
	Mode int `json:"mode"`
}

type FocusRequest struct {
	Cell int `json:"cell"`
}

type SenderRequest struct {
	SenderID core.SenderID `json:"sender_id"`
}

type SwitchRequest struct {
	// Offset defaults to 1.
	Offset *int `json:"offset,omitempty"`
}

type SwitchResponse struct {
	Switched bool          `json:"switched"`
	Active   core.SenderID `json:"active"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func SendersListHandler(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		senders, err := c.Senders(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, senders)
	}
}

func StateHandler(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := c.State(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}

func SenderHistoryHandler(history core.SendersHistoryStorer, room string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if history == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		events, err := history.FindBySenderID(room, core.SenderID(chi.URLParam(r, "id")))
		if err != nil {
			log.Error().Err(err).Str("service", "api").Msg("can't load sender history")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, events)
	}
}

func LayoutModeHandler(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := &ModeRequest{}
		if !decode(w, r, req) {
			return
		}

		if err := c.SetMode(r.Context(), req.Mode); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func LayoutFocusHandler(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := &FocusRequest{}
		if !decode(w, r, req) {
			return
		}

		if err := c.SetFocus(r.Context(), req.Cell); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func LayoutPickHandler(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := &SenderRequest{}
		if !decode(w, r, req) {
			return
		}

		if err := c.PickSender(r.Context(), req.SenderID); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func CellAssignHandler(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "cell index must be a number"})
			return
		}

		req := &SenderRequest{}
		if !decode(w, r, req) {
			return
		}

		if err := c.AssignCell(r.Context(), index, req.SenderID); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func SwitchHandler(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := &SwitchRequest{}
		if r.ContentLength != 0 && !decode(w, r, req) {
			return
		}

		offset := 1
		if req.Offset != nil {
			offset = *req.Offset
		}

		switched, err := c.Switch(r.Context(), offset)
		if err != nil {
			writeError(w, err)
			return
		}

		state, err := c.State(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, SwitchResponse{Switched: switched, Active: state.Active})
	}
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		log.Debug().Err(err).Str("service", "api").Msg("can't parse request")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrUnknownSender):
		status = http.StatusNotFound
	case errors.Is(err, layout.ErrInvalidMode),
		errors.Is(err, layout.ErrFocusOutOfRange),
		errors.Is(err, registry.ErrInvalidCell):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, loop.ErrStopped):
		status = http.StatusServiceUnavailable
	default:
		log.Error().Err(err).Str("service", "api").Msg("command failed")
	}

	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Str("service", "api").Msg("can't encode response")
	}
}
