// Package polls runs timed audience polls: creation, one vote per viewer,
// automatic expiry and a single final broadcast of the results.
package polls

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Bounds on poll shape.
const (
	MinOptions    = 2
	MaxOptions    = 6
	MinDuration   = time.Minute
	MaxDuration   = 60 * time.Minute
	MaxPromptLen  = 300
	MaxOptionLen  = 100
	DefaultLength = 10 * time.Minute
)

type State string

const (
	StateOpen   State = "open"
	StateClosed State = "closed"
)

type Origin string

const (
	OriginManual    Origin = "manual"
	OriginAutomatic Origin = "automatic"
)

// Option is one answer with its running tally.
type Option struct {
	ID       uuid.UUID `json:"id"`
	Position int       `json:"position"`
	Text     string    `json:"text"`
	Votes    int       `json:"votes"`
}

// Poll is a poll as stored and broadcast.
type Poll struct {
	ID         uuid.UUID  `json:"id"`
	SessionID  *uuid.UUID `json:"session_id,omitempty"`
	Prompt     string     `json:"prompt"`
	Options    []Option   `json:"options"`
	Origin     Origin     `json:"origin"`
	Context    string     `json:"context,omitempty"`
	SourceText string     `json:"source_text,omitempty"`
	State      State      `json:"state"`
	OpenedAt   time.Time  `json:"opened_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	TotalVotes int        `json:"total_votes"`
}

func (p *Poll) option(id uuid.UUID) int {
	for i := range p.Options {
		if p.Options[i].ID == id {
			return i
		}
	}
	return -1
}

func (p Poll) clone() Poll {
	p.Options = append([]Option(nil), p.Options...)
	return p
}

// Result is one row of a poll's final or running tally.
type Result struct {
	OptionID   uuid.UUID `json:"option_id"`
	Text       string    `json:"text"`
	Votes      int       `json:"votes"`
	Percentage float64   `json:"percentage"`
}

// Summary is a poll with its computed results.
type Summary struct {
	Poll             Poll     `json:"poll"`
	Results          []Result `json:"results"`
	RemainingSeconds int      `json:"remaining_seconds"`
}

// Tally computes percentages rounded to one decimal, ordered by votes
// descending with ties kept in option order.
func Tally(options []Option) []Result {
	ordered := append([]Option(nil), options...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })
	total := 0
	for _, o := range ordered {
		total += o.Votes
	}
	out := make([]Result, len(ordered))
	for i, o := range ordered {
		var pct float64
		if total > 0 {
			pct = math.Round(float64(o.Votes)/float64(total)*1000) / 10
		}
		out[i] = Result{OptionID: o.ID, Text: o.Text, Votes: o.Votes, Percentage: pct}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Votes > out[j].Votes })
	return out
}

func summarize(p Poll, now time.Time) Summary {
	s := Summary{Poll: p, Results: Tally(p.Options)}
	if p.State == StateOpen {
		if rem := p.ExpiresAt.Sub(now); rem > 0 {
			s.RemainingSeconds = int(math.Ceil(rem.Seconds()))
		}
	}
	return s
}
