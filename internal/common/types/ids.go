package types

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidSagaID is returned when parsing a malformed saga identifier.
var ErrInvalidSagaID = errors.New("invalid saga id")

// CorrelationID tracks a request across service boundaries.
type CorrelationID string

// NewCorrelationID generates a new unique CorrelationID.
func NewCorrelationID() CorrelationID {
	return CorrelationID(uuid.NewString())
}

// String returns the string representation of CorrelationID.
func (c CorrelationID) String() string {
	return string(c)
}

// IsEmpty checks if the CorrelationID is empty.
func (c CorrelationID) IsEmpty() bool {
	return c == ""
}

// SagaID identifies one run of a multi-service workflow in the intent log.
type SagaID string

// NewSagaID generates a new unique SagaID.
func NewSagaID() SagaID {
	return SagaID(uuid.NewString())
}

// ParseSagaID validates s as a UUID and returns it as a SagaID.
func ParseSagaID(s string) (SagaID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidSagaID, s)
	}
	return SagaID(s), nil
}

// String returns the string representation of SagaID.
func (s SagaID) String() string {
	return string(s)
}

// IsEmpty checks if the SagaID is empty.
func (s SagaID) IsEmpty() bool {
	return s == ""
}

// UserID identifies a user in the identity service.
type UserID int64

// IsZero reports whether the id is unset.
func (u UserID) IsZero() bool {
	return u == 0
}
