package models

import "time"

// Participant is one connected session's membership record inside a room.
// The ID equals the transport-level connection identifier assigned when the
// WebSocket was accepted.
type Participant struct {
	ID           string `json:"id"`
	UserName     string `json:"userName"`
	IsAudioMuted bool   `json:"isAudioMuted"`
	IsVideoMuted bool   `json:"isVideoMuted"`
}

// MediaState carries the mute flags exchanged in media-state-changed messages.
type MediaState struct {
	IsAudioMuted bool `json:"isAudioMuted"`
	IsVideoMuted bool `json:"isVideoMuted"`
}

// Room holds the participants currently joined under one room id. Rooms are
// transient process memory: they appear on first join and disappear when the
// last participant leaves. Only the registry mutates them.
type Room struct {
	ID           string
	CreatedAt    time.Time
	Participants map[string]Participant
}

// ParticipantsCount reports the number of joined participants.
func (r *Room) ParticipantsCount() int {
	return len(r.Participants)
}
