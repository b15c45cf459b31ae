package model

import "time"

// OwnerBinding maps a request domain to the user whose portfolio it serves.
type OwnerBinding struct {
	ID         string    `json:"id"`
	Domain     string    `json:"domain"`
	OwnerID    string    `json:"owner_id"`
	OwnerEmail string    `json:"owner_email"`
	CreatedAt  time.Time `json:"created_at"`
}

// Owner returns the identity the binding resolves to.
func (b *OwnerBinding) Owner() Identity {
	return Identity{ID: b.OwnerID, Email: b.OwnerEmail}
}

// OwnerBindingCreateRequest is the body of POST /api/admin/domains.
// OwnerID defaults to the calling admin when empty.
type OwnerBindingCreateRequest struct {
	Domain  string `json:"domain"`
	OwnerID string `json:"owner_id,omitempty"`
}
