package memory

import (
	"context"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/recipient"
)

// GetContact returns a copy of the contact.
func (m *Store) GetContact(_ context.Context, contactID string) (*recipient.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.contacts[contactID]
	if !ok {
		return nil, herald.ErrContactNotFound
	}
	cp := *c
	return &cp, nil
}

// GetGroup returns a copy of the group.
func (m *Store) GetGroup(_ context.Context, groupID string) (*recipient.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.groups[groupID]
	if !ok {
		return nil, herald.ErrGroupNotFound
	}
	cp := *g
	return &cp, nil
}

// GetGroupRecipients returns the group's members in insertion order.
func (m *Store) GetGroupRecipients(_ context.Context, groupID string, activeOnly bool) ([]*recipient.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.groups[groupID]; !ok {
		return nil, herald.ErrGroupNotFound
	}
	ids := m.members[groupID]
	result := make([]*recipient.Contact, 0, len(ids))
	for _, cid := range ids {
		c := m.contacts[cid]
		if activeOnly && !c.Active {
			continue
		}
		cp := *c
		result = append(result, &cp)
	}
	return result, nil
}

// CountGroup returns the number of members in the group.
func (m *Store) CountGroup(_ context.Context, groupID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.groups[groupID]; !ok {
		return 0, herald.ErrGroupNotFound
	}
	return len(m.members[groupID]), nil
}

// EnsureGroup creates the group if it does not exist.
func (m *Store) EnsureGroup(_ context.Context, g *recipient.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g.ID == "" {
		g.ID = id.NewGroupID()
	}
	if existing, ok := m.groups[g.ID]; ok {
		if existing.UserID != g.UserID {
			return herald.ErrGroupNotFound
		}
		return nil
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	cp := *g
	m.groups[g.ID] = &cp
	return nil
}

// UpsertContact inserts or updates a contact by its natural key.
func (m *Store) UpsertContact(_ context.Context, c *recipient.Contact) (*recipient.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	nk := c.UserID + "\x00" + recipient.NaturalKey(c)
	if existingID, ok := m.natural[nk]; ok {
		existing := m.contacts[existingID]
		existing.Name = c.Name
		existing.Phone = c.Phone
		existing.Email = c.Email
		existing.Active = c.Active
		existing.UpdatedAt = now
		cp := *existing
		return &cp, nil
	}

	cp := *c
	if cp.ID == "" {
		cp.ID = id.NewContactID()
	}
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.contacts[cp.ID] = &cp
	m.natural[nk] = cp.ID

	out := cp
	return &out, nil
}

// AddToGroup adds a contact to a group once.
func (m *Store) AddToGroup(_ context.Context, groupID, contactID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groups[groupID]; !ok {
		return herald.ErrGroupNotFound
	}
	if _, ok := m.contacts[contactID]; !ok {
		return herald.ErrContactNotFound
	}
	for _, cid := range m.members[groupID] {
		if cid == contactID {
			return nil
		}
	}
	m.members[groupID] = append(m.members[groupID], contactID)
	return nil
}
