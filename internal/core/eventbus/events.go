// Package eventbus provides the local publish/subscribe bus that feature code
// publishes learning events into and the notification inbox consumes.
package eventbus

import (
	"encoding/json"
	"fmt"
	"time"
)

// Known event types.
const (
	TypeCourseCompleted = "course_completed"
	TypeTeamInvite      = "team_invite"
	TypeStreakMilestone = "streak_milestone"
)

// Event is a published message. Payload is one of the typed payloads below, or
// an arbitrary map for types the bus does not know.
type Event struct {
	Type        string    `json:"type"`
	Payload     any       `json:"payload"`
	PublishedAt time.Time `json:"publishedAt"`
}

// UserID returns the user the event is addressed to, or "" when the payload
// names none.
func (e Event) UserID() string {
	switch p := e.Payload.(type) {
	case CourseCompletedPayload:
		return p.UserID
	case *CourseCompletedPayload:
		return p.UserID
	case TeamInvitePayload:
		return p.UserID
	case *TeamInvitePayload:
		return p.UserID
	case StreakMilestonePayload:
		return p.UserID
	case *StreakMilestonePayload:
		return p.UserID
	case map[string]any:
		id, _ := p["userId"].(string)
		return id
	}
	return ""
}

// CourseCompletedPayload is published when a learner finishes a course.
type CourseCompletedPayload struct {
	UserID      string    `json:"userId"`
	CourseID    string    `json:"courseId"`
	CourseTitle string    `json:"courseTitle"`
	XPAwarded   int       `json:"xpAwarded"`
	CompletedAt time.Time `json:"completedAt"`
}

// TeamInvitePayload is published when a learner is invited to a team.
type TeamInvitePayload struct {
	UserID   string `json:"userId"`
	TeamName string `json:"teamName"`
	Inviter  string `json:"inviter"`
	InviteID string `json:"inviteId"`
	Message  string `json:"message,omitempty"`
}

// StreakMilestonePayload is published when a learning streak hits a milestone.
type StreakMilestonePayload struct {
	UserID        string `json:"userId"`
	StreakLength  int    `json:"streakLength"`
	LongestStreak int    `json:"longestStreak"`
}

// DecodeEvent parses {"type": ..., "payload": {...}}. Known types decode into
// their typed payload; anything else keeps the payload as a map.
func DecodeEvent(raw []byte) (Event, error) {
	var wire struct {
		Type        string          `json:"type"`
		Payload     json.RawMessage `json:"payload"`
		PublishedAt time.Time       `json:"publishedAt"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if wire.Type == "" {
		return Event{}, fmt.Errorf("decode event: missing type")
	}

	e := Event{Type: wire.Type, PublishedAt: wire.PublishedAt}

	var err error
	switch wire.Type {
	case TypeCourseCompleted:
		e.Payload, err = decodeAs[CourseCompletedPayload](wire.Payload)
	case TypeTeamInvite:
		e.Payload, err = decodeAs[TeamInvitePayload](wire.Payload)
	case TypeStreakMilestone:
		e.Payload, err = decodeAs[StreakMilestonePayload](wire.Payload)
	default:
		e.Payload, err = decodeAs[map[string]any](wire.Payload)
	}
	if err != nil {
		return Event{}, fmt.Errorf("decode %s payload: %w", wire.Type, err)
	}
	return e, nil
}

func decodeAs[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v, nil
	}
	err := json.Unmarshal(raw, &v)
	return v, err
}
