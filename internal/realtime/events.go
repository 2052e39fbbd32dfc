package realtime

// Rooms.
const (
	RoomLive    = "live"
	RoomOverlay = "overlay"
)

// Outbound event names.
const (
	EventNewMessage         = "new_message"
	EventMessageLiked       = "message_liked"
	EventMessageDisplayed   = "message_displayed"
	EventNewPoll            = "new_poll"
	EventPollVoteUpdate     = "poll_vote_update"
	EventPollClosed         = "poll_closed"
	EventPollGenerated      = "poll_generated"
	EventEmbarrassingQueued = "embarrassing_queued"
	EventEmbarrassingReady  = "embarrassing_ready"
	EventDonationApproved   = "donation_approved"
	EventNewBuyer           = "new_buyer"
	EventStatsUpdate        = "stats_update"
	EventError              = "error"
	EventAck                = "ack"
)

// Inbound command names.
const (
	CommandSendMessage = "send_message"
	CommandLikeMessage = "like_message"
	CommandVotePoll    = "vote_poll"
	CommandJoinOverlay = "join_overlay"
	CommandLeave       = "leave_overlay"
)
