package recipient

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/herald"
)

// Ref points at a single recipient: either a stored contact or a raw
// destination typed by the caller. Exactly one field should be set.
type Ref struct {
	ContactID   string `json:"contact_id,omitempty"`
	Destination string `json:"destination,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Resolver resolves contact and group references against a Directory.
type Resolver struct {
	dir    Directory
	logger *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(dir Directory, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{dir: dir, logger: logger}
}

// ResolveContact resolves ref for kind k on behalf of userID. Unknown
// contacts and contacts of other users return herald.ErrContactNotFound;
// inactive contacts and malformed destinations return herald.ErrValidation.
func (r *Resolver) ResolveContact(ctx context.Context, userID string, k Kind, ref Ref) (Recipient, error) {
	if ref.ContactID == "" {
		if ref.Destination == "" {
			return Recipient{}, fmt.Errorf("%w: contact id or destination is required", herald.ErrValidation)
		}
		dest := Normalize(k, ref.Destination)
		if err := Validate(k, dest); err != nil {
			return Recipient{}, err
		}
		return Recipient{Destination: dest, DisplayName: ref.DisplayName}, nil
	}

	c, err := r.dir.GetContact(ctx, ref.ContactID)
	if err != nil {
		return Recipient{}, err
	}
	if c.UserID != userID {
		return Recipient{}, herald.ErrContactNotFound
	}
	if !c.Active {
		return Recipient{}, fmt.Errorf("%w: contact %s is inactive", herald.ErrValidation, c.ID)
	}
	dest := Normalize(k, c.Destination(k))
	if err := Validate(k, dest); err != nil {
		return Recipient{}, err
	}
	return Recipient{ContactRef: c.ID, Destination: dest, DisplayName: c.Name}, nil
}

// ResolveGroup lists the deliverable members of userID's group for kind
// k. Inactive members and members with a malformed destination are
// counted as invalid and never block the rest. A group owned by another
// user is reported as herald.ErrGroupNotFound.
func (r *Resolver) ResolveGroup(ctx context.Context, userID string, k Kind, groupID string) (GroupResolution, error) {
	if !k.Valid() {
		return GroupResolution{}, fmt.Errorf("%w: unknown message kind %q", herald.ErrValidation, k)
	}
	g, err := r.dir.GetGroup(ctx, groupID)
	if err != nil {
		return GroupResolution{}, err
	}
	if g.UserID != userID {
		return GroupResolution{}, herald.ErrGroupNotFound
	}
	total, err := r.dir.CountGroup(ctx, groupID)
	if err != nil {
		return GroupResolution{}, err
	}
	members, err := r.dir.GetGroupRecipients(ctx, groupID, true)
	if err != nil {
		return GroupResolution{}, err
	}

	valid := make([]Recipient, 0, len(members))
	for _, c := range members {
		dest := Normalize(k, c.Destination(k))
		if Validate(k, dest) != nil {
			continue
		}
		valid = append(valid, Recipient{ContactRef: c.ID, Destination: dest, DisplayName: c.Name})
	}

	res := GroupResolution{
		GroupID:      groupID,
		Total:        total,
		Valid:        valid,
		InvalidCount: total - len(valid),
	}
	r.logger.Debug("group resolved",
		slog.String("group_id", groupID),
		slog.Int("total", res.Total),
		slog.Int("valid", len(res.Valid)),
		slog.Int("invalid", res.InvalidCount),
	)
	return res, nil
}

// ResolveList validates a caller-supplied list of destinations for a
// bulk send, keeping input order. Malformed entries are counted as
// invalid.
func (r *Resolver) ResolveList(k Kind, refs []Ref) (GroupResolution, error) {
	if !k.Valid() {
		return GroupResolution{}, fmt.Errorf("%w: unknown message kind %q", herald.ErrValidation, k)
	}
	valid := make([]Recipient, 0, len(refs))
	for _, ref := range refs {
		dest := Normalize(k, ref.Destination)
		if Validate(k, dest) != nil {
			continue
		}
		valid = append(valid, Recipient{ContactRef: ref.ContactID, Destination: dest, DisplayName: ref.DisplayName})
	}
	return GroupResolution{
		Total:        len(refs),
		Valid:        valid,
		InvalidCount: len(refs) - len(valid),
	}, nil
}
