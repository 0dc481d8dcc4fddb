package models

import "time"

// Game is a scheduled pickup game at a venue. FsqID is the Foursquare
// place ID of the venue; the game's chat room is keyed by the game ID.
type Game struct {
	ID          string    `json:"_id"`
	Name        string    `json:"name"`
	GameMembers []User    `json:"gameMembers"`
	Leader      User      `json:"leader"`
	Date        time.Time `json:"date"`
	Location    string    `json:"location"`
	FsqID       string    `json:"fsq_id"`
	Sport       string    `json:"sport"`
	Description string    `json:"description,omitempty"`
}
