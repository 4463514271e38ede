package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kartik102005/ecolearn/internal/core/notify"
)

// ToNotification maps an event to an inbox entry through the fixed per-type
// templates. Events that do not fit a template, including known types with a
// malformed payload, become a generic system notification.
func ToNotification(e Event) notify.Notification {
	createdAt := e.PublishedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	switch e.Type {
	case TypeCourseCompleted:
		if p, ok := payloadAs[CourseCompletedPayload](e.Payload); ok && p.CourseID != "" {
			if !p.CompletedAt.IsZero() {
				createdAt = p.CompletedAt
			}
			return notify.Notification{
				ID:        "course-" + p.CourseID,
				Type:      e.Type,
				Category:  notify.CategoryCourse,
				Title:     "Course completed!",
				Message:   fmt.Sprintf(`You completed "%s" and earned %d XP.`, p.CourseTitle, p.XPAwarded),
				CreatedAt: createdAt,
				Meta:      map[string]any{"courseId": p.CourseID, "xpAwarded": p.XPAwarded},
			}
		}

	case TypeTeamInvite:
		if p, ok := payloadAs[TeamInvitePayload](e.Payload); ok && p.InviteID != "" {
			msg := fmt.Sprintf("%s invited you to join %s.", p.Inviter, p.TeamName)
			if p.Message != "" {
				msg += ` "` + p.Message + `"`
			}
			return notify.Notification{
				ID:        "team-invite-" + p.InviteID,
				Type:      e.Type,
				Category:  notify.CategoryTeam,
				Title:     "Team invitation",
				Message:   msg,
				CreatedAt: createdAt,
				Meta:      map[string]any{"inviteId": p.InviteID, "teamName": p.TeamName},
			}
		}

	case TypeStreakMilestone:
		if p, ok := payloadAs[StreakMilestonePayload](e.Payload); ok && p.StreakLength > 0 {
			return notify.Notification{
				ID:       fmt.Sprintf("streak-%d", p.StreakLength),
				Type:     e.Type,
				Category: notify.CategoryStreak,
				Title:    fmt.Sprintf("%d-day streak!", p.StreakLength),
				Message: fmt.Sprintf("You're on a %d-day learning streak. Longest: %d days.",
					p.StreakLength, p.LongestStreak),
				CreatedAt: createdAt,
				Meta:      map[string]any{"streakLength": p.StreakLength, "longestStreak": p.LongestStreak},
			}
		}
	}

	n := notify.Notification{
		ID:        "event-" + uuid.NewString(),
		Type:      e.Type,
		Category:  notify.CategorySystem,
		Title:     "New notification",
		Message:   "You have a new notification",
		CreatedAt: createdAt,
	}
	switch {
	case n.Type == "":
		n.Type = "unknown"
	case notify.ReservedType(n.Type):
		n.Type = notify.TypeGeneric
		n.Meta = map[string]any{"eventType": e.Type}
	}
	return n
}

// payloadAs accepts the typed payload, a pointer to it, or a generic map that
// is converted through JSON.
func payloadAs[T any](payload any) (T, bool) {
	var zero T
	switch p := payload.(type) {
	case T:
		return p, true
	case *T:
		if p == nil {
			return zero, false
		}
		return *p, true
	case map[string]any:
		raw, err := json.Marshal(p)
		if err != nil {
			return zero, false
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return zero, false
		}
		return v, true
	}
	return zero, false
}

// NotificationRouter turns bus events into inbox entries and hands both to a sink.
type NotificationRouter struct {
	bus   *EventBus
	unsub func()
}

// NewNotificationRouter constructs a router over bus.
func NewNotificationRouter(bus *EventBus) *NotificationRouter {
	return &NotificationRouter{bus: bus}
}

// Register subscribes sink to every event. Calling it again replaces the sink.
func (r *NotificationRouter) Register(sink func(Event, notify.Notification)) {
	if r == nil || r.bus == nil {
		return
	}
	r.Unregister()
	r.unsub = r.bus.Subscribe(func(e Event) {
		sink(e, ToNotification(e))
	})
}

// Unregister removes the sink.
func (r *NotificationRouter) Unregister() {
	if r != nil && r.unsub != nil {
		r.unsub()
		r.unsub = nil
	}
}
