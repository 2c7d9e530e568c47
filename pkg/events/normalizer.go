package events

// Normalizer translates raw platform events into the normalized
// vocabulary. The original payload is always preserved under
// "platform_data" so nothing the platform said is lost. Unknown
// events pass through with their original name and payload.
type Normalizer struct{}

// NewNormalizer creates a Normalizer
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize maps one raw platform event to a normalized Event
func (n *Normalizer) Normalize(name string, data map[string]any) Event {
	switch name {
	case "chatMsg":
		return Event{Name: EventMessage, Data: map[string]any{
			"user":          str(data["username"]),
			"content":       str(data["msg"]),
			"timestamp":     msToSeconds(data["time"]),
			"platform_data": data,
		}}

	case "pm":
		return Event{Name: EventPM, Data: map[string]any{
			"user":          str(data["username"]),
			"recipient":     str(data["to"]),
			"content":       str(data["msg"]),
			"timestamp":     msToSeconds(data["time"]),
			"platform_data": data,
		}}

	case "addUser":
		return Event{Name: EventUserJoin, Data: map[string]any{
			"user":          str(data["name"]),
			"user_data":     NormalizeUser(data).Map(),
			"timestamp":     nowIfZero(msToSeconds(data["time"])),
			"platform_data": data,
		}}

	case "userLeave":
		payload := map[string]any{
			"user":          str(data["name"]),
			"timestamp":     nowIfZero(msToSeconds(data["time"])),
			"platform_data": data,
		}
		// Rank and AFK are only sometimes present on leave
		if _, ok := data["rank"]; ok {
			payload["user_data"] = NormalizeUser(data).Map()
		} else if _, ok := data["afk"]; ok {
			payload["user_data"] = NormalizeUser(data).Map()
		}
		return Event{Name: EventUserLeave, Data: payload}

	case "userlist":
		raw, _ := data["users"].([]any)
		users := make([]map[string]any, 0, len(raw))
		for _, entry := range raw {
			if m, ok := entry.(map[string]any); ok {
				users = append(users, NormalizeUser(m).Map())
			}
		}
		return Event{Name: EventUserList, Data: map[string]any{
			"users":         users,
			"count":         len(users),
			"platform_data": data,
		}}

	case EventConnected, EventDisconnected, EventError:
		// Lifecycle signals are already normalized by the adapter
		return Event{Name: name, Data: data}
	}

	// Unknown platform event: pass through unchanged
	return Event{Name: name, Data: data}
}

// NormalizeUser maps a raw platform user payload to the normalized
// user object. is_moderator is derived from rank.
func NormalizeUser(data map[string]any) User {
	rank := num(data["rank"])
	meta, _ := data["meta"].(map[string]any)
	return User{
		Username:    str(data["name"]),
		Rank:        rank,
		IsAFK:       boolVal(data["afk"]),
		IsModerator: rank >= ModeratorRank,
		Meta:        meta,
	}
}
