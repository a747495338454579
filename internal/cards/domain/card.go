package domain

import (
	"slices"
	"strings"
	"time"

	"classifieds/internal/common/types"
)

// Card is a classified ad (aggregate root).
// Invariants:
//   - Title and text are non-blank
//   - The image list never exceeds the limit it was attached under
type Card struct {
	id        CardID
	title     string
	text      string
	createdAt time.Time
	ownerID   types.UserID
	imageIDs  []ImageID
}

// NewCard creates an unsaved card. The id is assigned when it is first persisted.
// The now parameter makes the function pure and testable.
// Returns ErrCardNotSaved if title or text is blank.
func NewCard(title, text string, now time.Time) (*Card, error) {
	title, text = strings.TrimSpace(title), strings.TrimSpace(text)
	if title == "" || text == "" {
		return nil, ErrCardNotSaved
	}
	return &Card{
		title:     title,
		text:      text,
		createdAt: now,
	}, nil
}

// ReconstructCard reconstructs a Card from persistence.
// This bypasses validation - only use for loading from database.
func ReconstructCard(id CardID, title, text string, createdAt time.Time, ownerID types.UserID, imageIDs []ImageID) *Card {
	return &Card{
		id:        id,
		title:     title,
		text:      text,
		createdAt: createdAt,
		ownerID:   ownerID,
		imageIDs:  slices.Clone(imageIDs),
	}
}

// AssignID records the identifier handed out by the repository on insert.
func (c *Card) AssignID(id CardID) {
	c.id = id
}

// AssignOwner records the user the card belongs to.
func (c *Card) AssignOwner(owner types.UserID) {
	c.ownerID = owner
}

// AttachImages appends image ids, refusing to go past maxImages.
func (c *Card) AttachImages(ids []ImageID, maxImages int) error {
	if len(c.imageIDs)+len(ids) > maxImages {
		return ErrImageLimitExceeded
	}
	c.imageIDs = append(c.imageIDs, ids...)
	return nil
}

// RemainingImageSlots returns how many more images fit under maxImages.
func (c *Card) RemainingImageSlots(maxImages int) int {
	return max(maxImages-len(c.imageIDs), 0)
}

// Rewrite replaces the title and/or text. A nil argument leaves the field as is.
// Returns whether a visible field changed, or ErrCardNotSaved if a provided value is blank.
func (c *Card) Rewrite(title, text *string) (bool, error) {
	newTitle, newText := c.title, c.text
	if title != nil {
		newTitle = strings.TrimSpace(*title)
	}
	if text != nil {
		newText = strings.TrimSpace(*text)
	}
	if newTitle == "" || newText == "" {
		return false, ErrCardNotSaved
	}
	changed := newTitle != c.title || newText != c.text
	c.title, c.text = newTitle, newText
	return changed, nil
}

// HasImage reports whether id is attached to the card.
func (c *Card) HasImage(id ImageID) bool {
	return slices.Contains(c.imageIDs, id)
}

// RemoveImage detaches one image id.
// Returns ErrImageNotFound if the card does not hold it.
func (c *Card) RemoveImage(id ImageID) error {
	i := slices.Index(c.imageIDs, id)
	if i < 0 {
		return ErrImageNotFound
	}
	c.imageIDs = slices.Delete(c.imageIDs, i, i+1)
	return nil
}

// OwnedBy reports whether user owns the card.
func (c *Card) OwnedBy(user types.UserID) bool {
	return c.ownerID == user
}

// Getters

func (c *Card) ID() CardID            { return c.id }
func (c *Card) Title() string         { return c.title }
func (c *Card) Text() string          { return c.text }
func (c *Card) CreatedAt() time.Time  { return c.createdAt }
func (c *Card) OwnerID() types.UserID { return c.ownerID }
func (c *Card) ImageIDs() []ImageID   { return slices.Clone(c.imageIDs) }
func (c *Card) ImageCount() int       { return len(c.imageIDs) }
func (c *Card) IsPersisted() bool     { return c.id != 0 }
