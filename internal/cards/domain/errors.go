package domain

import "errors"

// Kind classifies a failure for callers that map errors to responses.
type Kind int

const (
	KindInternal Kind = iota
	KindTokenInvalid
	KindPermissionDenied
	KindNotFound
	KindValidation
	KindRemoteCall
	KindSerialization
	KindCompensation
)

var kindNames = [...]string{
	KindInternal:         "internal",
	KindTokenInvalid:     "token_invalid",
	KindPermissionDenied: "permission_denied",
	KindNotFound:         "not_found",
	KindValidation:       "validation_failed",
	KindRemoteCall:       "remote_call_failed",
	KindSerialization:    "serialization_failed",
	KindCompensation:     "saga_compensation_failed",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Error is a classified domain error. Values are compared by identity, so
// every sentinel below is a distinct *Error.
type Error struct {
	kind   Kind
	msg    string
	parent *Error
}

func newError(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string { return e.msg }

// Kind returns the classification of e.
func (e *Error) Kind() Kind { return e.kind }

// Is reports whether target is e's parent sentinel, so a refined error
// still matches the sentinel it was derived from.
func (e *Error) Is(target error) bool {
	return e.parent != nil && error(e.parent) == target
}

// KindOf returns the kind of the outermost *Error in err's chain,
// or KindInternal when err carries no classification.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.kind
	}
	return KindInternal
}

// Domain errors for the Cards context.
var (
	// ErrTokenInvalid is returned when the bearer credential is absent, expired or rejected.
	ErrTokenInvalid = newError(KindTokenInvalid, "invalid token or expired")

	// ErrInvalidAPIKey is returned when a service-to-service call presents the wrong api key.
	ErrInvalidAPIKey = newError(KindTokenInvalid, "invalid api key")

	// ErrPermissionDenied is returned when the caller is neither the owner nor an admin.
	ErrPermissionDenied = newError(KindPermissionDenied, "you don't have permission to do this")

	// ErrCardNotFound is returned when a card cannot be found.
	ErrCardNotFound = newError(KindNotFound, "card not found")

	// ErrUserNotFound is returned when the identity service has no such user.
	ErrUserNotFound = newError(KindNotFound, "user not found")

	// ErrImageNotFound is returned when an image is not attached to the card.
	ErrImageNotFound = newError(KindNotFound, "image not found")

	// ErrComplaintNotFound is returned when a complaint cannot be found.
	ErrComplaintNotFound = newError(KindNotFound, "complaint not found")

	// ErrImageLimitExceeded is returned when a card would hold more images than allowed.
	ErrImageLimitExceeded = newError(KindValidation, "image limit exceeded")

	// ErrCardNotSaved is returned when a card's title or text is blank.
	ErrCardNotSaved = newError(KindValidation, "card not saved: title and text must not be blank")

	// ErrInvalidPage is returned for a negative page number or a non-positive limit.
	ErrInvalidPage = newError(KindValidation, "page must not be negative and limit must be positive")

	// ErrInvalidComplaint is returned when a complaint has no reason or an unknown target type.
	ErrInvalidComplaint = newError(KindValidation, "invalid complaint")

	// ErrImageNotSaved is returned when the image service did not store the uploaded files.
	ErrImageNotSaved = newError(KindRemoteCall, "images were not saved")

	// ErrCardUnlinkFailed is returned when the identity service refused to unlink a card.
	ErrCardUnlinkFailed = newError(KindRemoteCall, "card was not unlinked from its owner")

	// ErrImageNotMoved is returned when images could not be moved to or from the trash bucket.
	ErrImageNotMoved = newError(KindRemoteCall, "images were not moved")

	// ErrCommentsNotDeleted is returned when the comment service failed to purge a card's comments.
	ErrCommentsNotDeleted = newError(KindRemoteCall, "comments were not deleted")

	// ErrImageNotDeleted is returned when the image service failed to delete images.
	ErrImageNotDeleted = newError(KindRemoteCall, "image was not deleted")

	// ErrRemoteCall is returned when a collaborator answered with an unexpected status or timed out.
	ErrRemoteCall = newError(KindRemoteCall, "remote call failed")

	// ErrSerialization is returned when a cached projection cannot be encoded or decoded.
	ErrSerialization = newError(KindSerialization, "an error occurred during serialization")

	// ErrCompensationFailed is recorded when a rollback action itself fails.
	ErrCompensationFailed = newError(KindCompensation, "saga compensation failed")

	// ErrCorruptData is returned when data loaded from persistence is invalid.
	ErrCorruptData = newError(KindInternal, "corrupt data in database")
)

// ErrCardNotLinked is returned when the identity service refused to link a
// new card to its owner. It matches ErrCardNotSaved but is a remote failure.
var ErrCardNotLinked = &Error{kind: KindRemoteCall, msg: "card not saved: owner link failed", parent: ErrCardNotSaved}
