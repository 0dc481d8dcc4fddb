package models

import "time"

type Profile struct {
	Description string `json:"description,omitempty"`
	Picture     string `json:"picture,omitempty"`
}

type User struct {
	ID        string    `json:"_id"`
	Username  string    `json:"username"`
	Profile   *Profile  `json:"profile,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
	Friends   []string  `json:"friends,omitempty"`
}
