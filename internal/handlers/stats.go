package handlers

import (
	"net/http"
	"strconv"
	"time"
)

const recentConversations = 5

// ConversationStats represents one entry in the recent conversations list.
type ConversationStats struct {
	ID           string `json:"id"`
	CompanyID    string `json:"company_id"`
	MessageCount int    `json:"message_count"`
	LastActivity string `json:"last_activity"`
}

// ArchiveStats reports the transcript archive, when one is configured.
type ArchiveStats struct {
	TotalMessages      int64  `json:"total_messages"`
	TotalConversations int64  `json:"total_conversations"`
	LastActivity       string `json:"last_activity"`
}

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	Conversations       int                 `json:"conversations"`
	Messages            int                 `json:"messages"`
	PendingPolls        int                 `json:"pending_polls"`
	Sockets             int                 `json:"sockets"`
	Rooms               int                 `json:"rooms"`
	PendingReplies      int                 `json:"pending_replies"`
	LastActivity        string              `json:"last_activity"`
	RecentConversations []ConversationStats `json:"recent_conversations"`
	Archive             *ArchiveStats       `json:"archive,omitempty"`
}

// Stats reports live delivery state and, if configured, archive totals.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	summaries := h.convs.Snapshot()

	resp := StatsResponse{
		Conversations:       len(summaries),
		PendingPolls:        h.waiters.Len(),
		Sockets:             h.rooms.Connections(),
		Rooms:               h.rooms.Rooms(),
		LastActivity:        "no activity yet",
		RecentConversations: make([]ConversationStats, 0, recentConversations),
	}
	if h.replies != nil {
		resp.PendingReplies = h.replies.Pending()
	}

	for i, s := range summaries {
		resp.Messages += s.Messages
		if i == 0 && s.Messages > 0 {
			resp.LastActivity = formatTimeAgo(s.LastActivity)
		}
		if i < recentConversations {
			resp.RecentConversations = append(resp.RecentConversations, ConversationStats{
				ID:           s.ID,
				CompanyID:    s.CompanyID,
				MessageCount: s.Messages,
				LastActivity: formatTimeAgo(s.LastActivity),
			})
		}
	}

	if h.archive != nil {
		totalMessages, err := h.archive.CountMessages(ctx)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to count archived messages")
			return
		}

		totalConversations, err := h.archive.CountConversations(ctx)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to count archived conversations")
			return
		}

		lastActivityTime, err := h.archive.GetMostRecentActivity(ctx)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to get last activity")
			return
		}

		archive := &ArchiveStats{
			TotalMessages:      totalMessages,
			TotalConversations: totalConversations,
			LastActivity:       "no activity yet",
		}
		if lastActivityTime != nil {
			archive.LastActivity = formatTimeAgo(*lastActivityTime)
		}
		resp.Archive = archive
	}

	h.JSON(w, http.StatusOK, resp)
}

// formatTimeAgo formats a time as a human-readable "X ago" string.
func formatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	default:
		return plural(int(diff.Hours()/24), "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
