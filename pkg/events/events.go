package events

// Normalized event names. These are the platform-independent
// vocabulary consumed by the bot and plugins; the connection adapter
// translates whatever its platform emits into these.
const (
	EventMessage      = "message"
	EventPM           = "pm"
	EventUserJoin     = "user_join"
	EventUserLeave    = "user_leave"
	EventUserList     = "user_list"
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventError        = "error"
)

// ModeratorRank is the minimum rank treated as moderator
const ModeratorRank = 2

// Event is a normalized event with its payload. Payloads are maps so
// unknown platform events can pass through unchanged.
type Event struct {
	Name string
	Data map[string]any
}

// User is the normalized user object carried by user_join, user_leave
// and user_list events.
type User struct {
	Username    string         `json:"username"`
	Rank        float64        `json:"rank"`
	IsAFK       bool           `json:"is_afk"`
	IsModerator bool           `json:"is_moderator"`
	Meta        map[string]any `json:"meta"`
}

// Map renders the user object as an event payload field
func (u User) Map() map[string]any {
	meta := u.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	return map[string]any{
		"username":     u.Username,
		"rank":         u.Rank,
		"is_afk":       u.IsAFK,
		"is_moderator": u.IsModerator,
		"meta":         meta,
	}
}
