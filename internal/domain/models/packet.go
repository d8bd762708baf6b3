package models

import "time"

// Packet is a rendered analysis artifact.
type Packet struct {
	ID        string    `json:"id"`
	Scope     string    `json:"scope"`
	System    string    `json:"-"`
	User      string    `json:"-"`
	Text      string    `json:"text,omitempty"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// Subject is the one-line title used by email and chat sinks.
func (p Packet) Subject() string {
	return "ChainPulse analysis " + p.Scope + " " + p.CreatedAt.Format("02 Jan 2006 15:04")
}
