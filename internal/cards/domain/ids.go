package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidID is returned when parsing a non-positive or non-numeric identifier.
var ErrInvalidID = errors.New("id must be a positive integer")

// CardID identifies a card. Ids are assigned by card storage on insert.
type CardID int64

// ImageID identifies an image held by the image service.
type ImageID int64

// ComplaintID identifies a complaint.
type ComplaintID int64

// ParseCardID parses a positive decimal card id.
func ParseCardID(s string) (CardID, error) {
	n, err := parsePositive(s)
	return CardID(n), err
}

// ParseImageID parses a positive decimal image id.
func ParseImageID(s string) (ImageID, error) {
	n, err := parsePositive(s)
	return ImageID(n), err
}

// ParseComplaintID parses a positive decimal complaint id.
func ParseComplaintID(s string) (ComplaintID, error) {
	n, err := parsePositive(s)
	return ComplaintID(n), err
}

func parsePositive(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return n, nil
}

func (id CardID) String() string      { return strconv.FormatInt(int64(id), 10) }
func (id ImageID) String() string     { return strconv.FormatInt(int64(id), 10) }
func (id ComplaintID) String() string { return strconv.FormatInt(int64(id), 10) }

// JoinImageIDs renders ids as a comma separated list, the format the image service expects.
func JoinImageIDs(ids []ImageID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ",")
}
