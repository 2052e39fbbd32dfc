package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/moedor-live/backend/internal/apperr"
	"github.com/moedor-live/backend/internal/messages"
	"github.com/moedor-live/backend/internal/polls"
	"github.com/moedor-live/backend/internal/ratelimit"
	"github.com/moedor-live/backend/internal/realtime"
)

// Limits are the per-minute viewer quotas.
type Limits struct {
	MessagesPerMinute int
	LikesPerMinute    int
}

// MessageService is what viewers reach through chat commands.
type MessageService interface {
	Validate(pseudonym, body string) error
	Submit(ctx context.Context, userID uuid.UUID, pseudonym, body string) (messages.Message, error)
	ToggleLike(ctx context.Context, userID, messageID uuid.UUID) (messages.LikeResult, error)
}

// Voter casts poll votes.
type Voter interface {
	Vote(ctx context.Context, pollID, userID, optionID uuid.UUID) (polls.VoteUpdate, error)
}

// Commands runs viewer socket commands.
type Commands struct {
	limiter  ratelimit.Limiter
	limits   Limits
	messages MessageService
	polls    Voter
}

// NewCommands creates the socket command handler.
func NewCommands(limiter ratelimit.Limiter, limits Limits, msgs MessageService, voter Voter) *Commands {
	return &Commands{limiter: limiter, limits: limits, messages: msgs, polls: voter}
}

type sendMessage struct {
	Pseudonym string `json:"pseudonym"`
	Body      string `json:"body"`
	Message   string `json:"message"` // older overlay clients
}

type likeMessage struct {
	MessageID uuid.UUID `json:"message_id"`
}

type votePoll struct {
	PollID   uuid.UUID `json:"poll_id"`
	OptionID uuid.UUID `json:"option_id"`
}

// HandleCommand implements realtime.CommandHandler.
func (h *Commands) HandleCommand(ctx context.Context, c *realtime.Client, event string, data json.RawMessage) (interface{}, error) {
	user := c.UserID()
	switch event {
	case realtime.CommandSendMessage:
		var req sendMessage
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		if req.Pseudonym == "" {
			req.Pseudonym = c.Identity.Name
		}
		if req.Body == "" {
			req.Body = req.Message
		}
		// rejected messages do not spend the quota
		if err := h.messages.Validate(req.Pseudonym, req.Body); err != nil {
			return nil, err
		}
		if err := ratelimit.Enforce(ctx, h.limiter, user.String(), ratelimit.ActionMessage, h.limits.MessagesPerMinute); err != nil {
			return nil, err
		}
		return h.messages.Submit(ctx, user, req.Pseudonym, req.Body)

	case realtime.CommandLikeMessage:
		var req likeMessage
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		if req.MessageID == uuid.Nil {
			return nil, apperr.Invalid("message_id", "required")
		}
		if err := ratelimit.Enforce(ctx, h.limiter, user.String(), ratelimit.ActionLike, h.limits.LikesPerMinute); err != nil {
			return nil, err
		}
		return h.messages.ToggleLike(ctx, user, req.MessageID)

	case realtime.CommandVotePoll:
		var req votePoll
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		if req.PollID == uuid.Nil || req.OptionID == uuid.Nil {
			return nil, apperr.Invalid("vote", "poll_id and option_id are required")
		}
		return h.polls.Vote(ctx, req.PollID, user, req.OptionID)

	default:
		return nil, apperr.Invalid("event", fmt.Sprintf("unknown command %q", event))
	}
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return apperr.Invalid("data", "missing payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Invalid("data", "malformed payload")
	}
	return nil
}
