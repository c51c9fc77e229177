package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/herald"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/recipient"
)

const contactColumns = `id, user_id, name, phone, email, active, created_at, updated_at`

// GetContact returns a contact by id.
func (s *Store) GetContact(ctx context.Context, contactID string) (*recipient.Contact, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+contactColumns+` FROM herald_contacts WHERE id = $1`, contactID)
	c, err := scanContact(row)
	if err != nil {
		if isNoRows(err) {
			return nil, herald.ErrContactNotFound
		}
		return nil, fmt.Errorf("herald/postgres: get contact: %w", err)
	}
	return c, nil
}

// GetGroup returns a group by id.
func (s *Store) GetGroup(ctx context.Context, groupID string) (*recipient.Group, error) {
	var g recipient.Group
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, name, created_at FROM herald_groups WHERE id = $1`, groupID,
	).Scan(&g.ID, &g.UserID, &g.Name, &g.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, herald.ErrGroupNotFound
		}
		return nil, fmt.Errorf("herald/postgres: get group: %w", err)
	}
	return &g, nil
}

// GetGroupRecipients returns the group's members in the order they were
// added.
func (s *Store) GetGroupRecipients(ctx context.Context, groupID string, activeOnly bool) ([]*recipient.Contact, error) {
	if err := s.groupExists(ctx, groupID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.user_id, c.name, c.phone, c.email, c.active, c.created_at, c.updated_at
		FROM herald_group_members m
		JOIN herald_contacts c ON c.id = m.contact_id
		WHERE m.group_id = $1 AND (NOT $2 OR c.active)
		ORDER BY m.position ASC`,
		groupID, activeOnly,
	)
	if err != nil {
		return nil, fmt.Errorf("herald/postgres: group recipients: %w", err)
	}
	defer rows.Close()

	var contacts []*recipient.Contact
	for rows.Next() {
		c, scanErr := scanContact(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("herald/postgres: scan contact row: %w", scanErr)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("herald/postgres: iterate contact rows: %w", err)
	}
	return contacts, nil
}

// CountGroup returns the number of members in the group.
func (s *Store) CountGroup(ctx context.Context, groupID string) (int, error) {
	if err := s.groupExists(ctx, groupID); err != nil {
		return 0, err
	}
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM herald_group_members WHERE group_id = $1`, groupID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("herald/postgres: count group: %w", err)
	}
	return n, nil
}

// EnsureGroup creates the group if it does not exist.
func (s *Store) EnsureGroup(ctx context.Context, g *recipient.Group) error {
	if g.ID == "" {
		g.ID = id.NewGroupID()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	// The no-op update makes RETURNING yield the existing owner.
	var owner string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO herald_groups (id, user_id, name, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET user_id = herald_groups.user_id
		RETURNING user_id`,
		g.ID, g.UserID, g.Name, g.CreatedAt,
	).Scan(&owner)
	if err != nil {
		return fmt.Errorf("herald/postgres: ensure group: %w", err)
	}
	if owner != g.UserID {
		return herald.ErrGroupNotFound
	}
	return nil
}

// UpsertContact inserts a contact or updates the one sharing its natural
// key, returning the stored row.
func (s *Store) UpsertContact(ctx context.Context, c *recipient.Contact) (*recipient.Contact, error) {
	contactID := c.ID
	if contactID == "" {
		contactID = id.NewContactID()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO herald_contacts (id, user_id, natural_key, name, phone, email, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, natural_key) DO UPDATE SET
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			email = EXCLUDED.email,
			active = EXCLUDED.active,
			updated_at = NOW()
		RETURNING `+contactColumns,
		contactID, c.UserID, recipient.NaturalKey(c), c.Name, c.Phone, c.Email, c.Active,
	)
	saved, err := scanContact(row)
	if err != nil {
		return nil, fmt.Errorf("herald/postgres: upsert contact: %w", err)
	}
	return saved, nil
}

// AddToGroup adds a contact to a group once.
func (s *Store) AddToGroup(ctx context.Context, groupID, contactID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO herald_group_members (group_id, contact_id)
		VALUES ($1, $2)
		ON CONFLICT (group_id, contact_id) DO NOTHING`,
		groupID, contactID,
	)
	if err == nil {
		return nil
	}
	if isForeignKey(err) {
		if gErr := s.groupExists(ctx, groupID); gErr != nil {
			return gErr
		}
		return herald.ErrContactNotFound
	}
	return fmt.Errorf("herald/postgres: add to group: %w", err)
}

func (s *Store) groupExists(ctx context.Context, groupID string) error {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM herald_groups WHERE id = $1)`, groupID,
	).Scan(&ok)
	if err != nil {
		return fmt.Errorf("herald/postgres: check group: %w", err)
	}
	if !ok {
		return herald.ErrGroupNotFound
	}
	return nil
}

func scanContact(row pgx.Row) (*recipient.Contact, error) {
	var c recipient.Contact
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Phone, &c.Email, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
