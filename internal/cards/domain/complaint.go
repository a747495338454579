package domain

import (
	"strings"
	"time"

	"classifieds/internal/common/types"
)

// ComplaintType names what a complaint is about.
type ComplaintType string

const (
	ComplaintUser ComplaintType = "USER"
	ComplaintCard ComplaintType = "CARD"
)

// ParseComplaintType accepts USER or CARD in any case.
// Returns ErrInvalidComplaint for anything else.
func ParseComplaintType(s string) (ComplaintType, error) {
	switch ComplaintType(strings.ToUpper(strings.TrimSpace(s))) {
	case ComplaintUser:
		return ComplaintUser, nil
	case ComplaintCard:
		return ComplaintCard, nil
	default:
		return "", ErrInvalidComplaint
	}
}

// ComplaintFilter narrows a complaint listing to one type.
// Unknown or empty input selects every complaint.
func ComplaintFilter(s string) ComplaintType {
	t, err := ParseComplaintType(s)
	if err != nil {
		return ""
	}
	return t
}

// Complaint is a user report against a card or another user.
// Targets are referenced by id only; nothing enforces that they still exist.
type Complaint struct {
	id        ComplaintID
	kind      ComplaintType
	targetID  int64
	reason    string
	authorID  types.UserID
	createdAt time.Time
}

// NewComplaint creates an unsaved complaint.
// The now parameter makes the function pure and testable.
// Returns ErrInvalidComplaint if the reason is blank or the target is unset.
func NewComplaint(kind ComplaintType, targetID int64, reason string, authorID types.UserID, now time.Time) (*Complaint, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" || targetID <= 0 {
		return nil, ErrInvalidComplaint
	}
	if kind != ComplaintUser && kind != ComplaintCard {
		return nil, ErrInvalidComplaint
	}
	return &Complaint{
		kind:      kind,
		targetID:  targetID,
		reason:    reason,
		authorID:  authorID,
		createdAt: now,
	}, nil
}

// ReconstructComplaint reconstructs a Complaint from persistence.
// This bypasses validation - only use for loading from database.
func ReconstructComplaint(id ComplaintID, kind ComplaintType, targetID int64, reason string, authorID types.UserID, createdAt time.Time) *Complaint {
	return &Complaint{
		id:        id,
		kind:      kind,
		targetID:  targetID,
		reason:    reason,
		authorID:  authorID,
		createdAt: createdAt,
	}
}

// AssignID records the identifier handed out by the repository on insert.
func (c *Complaint) AssignID(id ComplaintID) {
	c.id = id
}

// Getters

func (c *Complaint) ID() ComplaintID        { return c.id }
func (c *Complaint) Type() ComplaintType    { return c.kind }
func (c *Complaint) TargetID() int64        { return c.targetID }
func (c *Complaint) Reason() string         { return c.reason }
func (c *Complaint) AuthorID() types.UserID { return c.authorID }
func (c *Complaint) CreatedAt() time.Time   { return c.createdAt }
