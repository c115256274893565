package data

import "time"

// Space is a named room participants share screens in.
type Space struct {
	ID         string    `json:"spaceId"`
	Name       string    `json:"name"`
	AccessCode string    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Participant is a registered member of a space.
type Participant struct {
	ID       string    `json:"participantId"`
	SpaceID  string    `json:"-"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"-"`
}

// SpaceStatus is the roster of a space as served to clients.
type SpaceStatus struct {
	SpaceID      string        `json:"spaceId"`
	Name         string        `json:"name"`
	Participants []Participant `json:"participants"`
}
