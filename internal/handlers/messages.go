package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"
)

const errMissingFields = "companyId, visitorId, text are required"

// SubmitRequest is the body of POST /api/messages.
type SubmitRequest struct {
	CompanyID string `json:"companyId"`
	VisitorID string `json:"visitorId"`
	Text      string `json:"text"`
	Transport string `json:"transport,omitempty"`
}

// SubmitResponse acknowledges an accepted message.
type SubmitResponse struct {
	OK        bool   `json:"ok"`
	ConvID    string `json:"convId"`
	Transport string `json:"transport"`
}

// SubmitMessage accepts a visitor message over HTTP. The reply is delivered
// later through the conversation's poll waiters and sockets.
func (h *Handler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, errMissingFields)
		return
	}

	err := validateIDs(req.CompanyID, req.VisitorID)
	if errors.Is(err, errMissingIDs) || req.Text == "" {
		h.Error(w, http.StatusBadRequest, errMissingFields)
		return
	}
	if err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if !utf8.ValidString(req.Text) {
		h.Error(w, http.StatusBadRequest, "text must be valid UTF-8")
		return
	}
	if len(req.Text) > h.opts.MaxMessageBytes {
		h.Error(w, http.StatusUnprocessableEntity, fmt.Sprintf("text too long (max %d bytes)", h.opts.MaxMessageBytes))
		return
	}

	transport := req.Transport
	if transport == "" {
		transport = "poll"
	}

	conv := h.convs.GetOrCreate(req.CompanyID, req.VisitorID)
	msg := h.submit(conv, req.Text)

	h.logger.Debug().
		Str("conv_id", conv.ID).
		Str("msg_id", msg.ID).
		Str("transport", transport).
		Msg("message submitted")

	h.JSON(w, http.StatusOK, SubmitResponse{
		OK:        true,
		ConvID:    conv.ID,
		Transport: transport,
	})
}

// Poll returns the messages after lastId, waiting up to the poll timeout for
// the next one when there are none.
func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	companyID, visitorID, err := queryIDs(r)
	if err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	conv := h.convs.GetOrCreate(companyID, visitorID)
	msgs := h.dispatcher.Poll(r.Context(), conv, r.URL.Query().Get("lastId"), h.opts.PollTimeout)

	if r.Context().Err() != nil {
		// Client went away; nobody to answer.
		return
	}
	h.JSON(w, http.StatusOK, msgs)
}
