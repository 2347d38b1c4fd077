package httpserver

import (
	"net/http"

	"househunter/internal/domain"
	"househunter/internal/service"
)

type createMessageRequest struct {
	Message    string `json:"message"`
	ReceiverID *int64 `json:"receiver_id"`
}

// handleSendMessage takes the same path as a chat socket frame: access
// check, receiver resolution, block check, persist, then publish.
func handleSendMessage(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		listingID, err := urlID(r, "listingID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		var req createMessageRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		msg, err := msgSvc.Send(r.Context(), CurrentUser(r), listingID, req.Message, req.ReceiverID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

// handleListMessages returns the conversation with ?with= (tenants may
// omit it and get the landlord).
func handleListMessages(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		listingID, err := urlID(r, "listingID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		with, err := queryID(r, "with")
		if err != nil {
			writeError(w, r, err)
			return
		}
		msgs, err := msgSvc.Conversation(r.Context(), CurrentUser(r), listingID, with)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if msgs == nil {
			msgs = []service.MessageView{}
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func handleMarkRead(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		listingID, err := urlID(r, "listingID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		with, err := queryID(r, "with")
		if err != nil {
			writeError(w, r, err)
			return
		}
		n, err := msgSvc.MarkRead(r.Context(), CurrentUser(r), listingID, with)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"marked_read": n})
	}
}

func handleListConversations(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convs, err := msgSvc.Conversations(r.Context(), CurrentUser(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if convs == nil {
			convs = []service.ConversationSummary{}
		}
		writeJSON(w, http.StatusOK, convs)
	}
}

// Moderation

func handleModerationMessages(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset, limit := page(r)
		flagged := r.URL.Query().Get("flagged") == "true"
		msgs, err := msgSvc.ListForModeration(r.Context(), CurrentUser(r), flagged, offset, limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

type flagRequest struct {
	Reason string `json:"reason"`
}

func handleFlagMessage(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlID(r, "messageID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		var req flagRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		msg, err := msgSvc.Flag(r.Context(), CurrentUser(r), id, req.Reason)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}

func handleUnflagMessage(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlID(r, "messageID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		msg, err := msgSvc.Unflag(r.Context(), CurrentUser(r), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}

func handleDeleteMessage(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlID(r, "messageID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := msgSvc.DeleteMessage(r.Context(), CurrentUser(r), id); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type deleteConversationRequest struct {
	ListingID     int64 `json:"listing_id"`
	CounterpartID int64 `json:"counterpart_id"`
}

func handleDeleteConversation(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deleteConversationRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if req.ListingID <= 0 || req.CounterpartID <= 0 {
			badRequest(w, "listing_id and counterpart_id are required")
			return
		}
		n, err := msgSvc.DeleteConversation(r.Context(), CurrentUser(r), req.ListingID, req.CounterpartID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
	}
}

type blockRequest struct {
	BlockerID int64 `json:"blocker_id"`
	BlockedID int64 `json:"blocked_id"`
}

func handleBlock(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req blockRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		b, err := msgSvc.Block(r.Context(), CurrentUser(r), req.BlockerID, req.BlockedID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, b)
	}
}

func handleUnblock(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req blockRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if err := msgSvc.Unblock(r.Context(), CurrentUser(r), req.BlockerID, req.BlockedID); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleListBlocks(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		blocks, err := msgSvc.ListBlocks(r.Context(), CurrentUser(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if blocks == nil {
			blocks = []*domain.MessageBlock{}
		}
		writeJSON(w, http.StatusOK, blocks)
	}
}
