package models

// Peer describes a remote device seen by one transport. Two peers are the
// same peer when their IDs match.
type Peer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
