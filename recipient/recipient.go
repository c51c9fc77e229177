// Package recipient turns contact and group references into concrete
// destinations. Resolution happens before enqueue so callers learn the
// valid and invalid counts without waiting for a batch to run.
package recipient

import (
	"context"
	"time"
)

// Kind selects which contact field a send goes to.
type Kind string

const (
	KindSMS   Kind = "sms"
	KindEmail Kind = "email"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return k == KindSMS || k == KindEmail }

// Contact is an address book entry owned by a user.
type Contact struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Destination returns the field of c that kind k delivers to.
func (c *Contact) Destination(k Kind) string {
	if k == KindEmail {
		return c.Email
	}
	return c.Phone
}

// Group is a named set of contacts.
type Group struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Recipient is the resolved target of one send. It is derived on demand
// and never stored by itself.
type Recipient struct {
	ContactRef  string `json:"contact_ref,omitempty"`
	Destination string `json:"destination"`
	DisplayName string `json:"display_name,omitempty"`
}

// GroupResolution splits a group into deliverable recipients and a count
// of members that were skipped. InvalidCount == Total - len(Valid).
type GroupResolution struct {
	GroupID      string      `json:"group_id"`
	Total        int         `json:"total"`
	Valid        []Recipient `json:"valid"`
	InvalidCount int         `json:"invalid_count"`
}

// Directory is the read side of the contact store.
type Directory interface {
	// GetContact returns the contact or herald.ErrContactNotFound.
	GetContact(ctx context.Context, contactID string) (*Contact, error)

	// GetGroup returns the group or herald.ErrGroupNotFound.
	GetGroup(ctx context.Context, groupID string) (*Group, error)

	// GetGroupRecipients returns the group's members in stable order.
	// With activeOnly set, inactive contacts are left out.
	// Unknown groups return herald.ErrGroupNotFound.
	GetGroupRecipients(ctx context.Context, groupID string, activeOnly bool) ([]*Contact, error)

	// CountGroup returns the number of members in the group, active or not.
	CountGroup(ctx context.Context, groupID string) (int, error)
}

// Writer is the write side of the contact store, used by imports.
type Writer interface {
	// EnsureGroup creates g if no group with its ID exists. A group with
	// that ID owned by another user returns herald.ErrGroupNotFound.
	EnsureGroup(ctx context.Context, g *Group) error

	// UpsertContact inserts c or updates the contact of the same user with
	// the same phone (or, for contacts without a phone, the same email).
	// It returns the stored contact, whose ID may differ from c.ID.
	UpsertContact(ctx context.Context, c *Contact) (*Contact, error)

	// AddToGroup adds a contact to a group. Adding twice is a no-op.
	AddToGroup(ctx context.Context, groupID, contactID string) error
}

// NaturalKey returns the per-user identity used by UpsertContact.
func NaturalKey(c *Contact) string {
	if c.Phone != "" {
		return "phone:" + c.Phone
	}
	return "email:" + c.Email
}
