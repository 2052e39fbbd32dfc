package engine

import (
	"context"
	"time"

	"github.com/moedor-live/backend/internal/realtime"
	"github.com/moedor-live/backend/internal/session"
)

const observeTimeout = 2 * time.Second

// AudienceCounter reports how many sockets are in a room.
type AudienceCounter interface {
	Count(room string) int
}

// SessionStats is the part of the session manager the stats feed reads.
type SessionStats interface {
	Snapshot() (session.Snapshot, error)
	ObserveViewers(ctx context.Context, n int)
}

// StatsPublisher sends stats_update to the live room.
type StatsPublisher struct {
	audience AudienceCounter
	sessions SessionStats
	bus      Broadcaster
}

// NewStatsPublisher creates a stats publisher.
func NewStatsPublisher(audience AudienceCounter, sessions SessionStats, bus Broadcaster) *StatsPublisher {
	return &StatsPublisher{audience: audience, sessions: sessions, bus: bus}
}

// AudienceChanged is installed as the hub's audience callback.
func (s *StatsPublisher) AudienceChanged(room string, count int) {
	if room != realtime.RoomLive {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), observeTimeout)
	s.sessions.ObserveViewers(ctx, count)
	cancel()
	s.send(s.payload(count))
}

// Publish sends the current totals.
func (s *StatsPublisher) Publish() {
	s.send(s.payload(s.audience.Count(realtime.RoomLive)))
}

// Donation sends the totals flagged with a new donation.
func (s *StatsPublisher) Donation(cents int64, donationType string) {
	p := s.payload(s.audience.Count(realtime.RoomLive))
	p["new_donation"] = true
	p["amount"] = float64(cents) / 100
	p["type"] = donationType
	s.send(p)
}

func (s *StatsPublisher) payload(online int) map[string]interface{} {
	p := map[string]interface{}{"online_users": online}
	if snap, err := s.sessions.Snapshot(); err == nil {
		p["session_id"] = snap.ID
		p["total_messages"] = snap.TotalMessages
		p["money_raised"] = float64(snap.MoneyRaised) / 100
		p["peak_viewers"] = snap.PeakViewers
		p["stunts_remaining"] = snap.StuntsRemaining
	}
	return p
}

func (s *StatsPublisher) send(p map[string]interface{}) {
	s.bus.Publish(realtime.RoomLive, realtime.EventStatsUpdate, p)
}
