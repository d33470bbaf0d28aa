package apperr

var (
	// Domain errors, returned by the chat service
	ErrSameParticipants      = InvalidArg("a conversation needs two different users")
	ErrEmptyContent          = InvalidArg("message content cannot be empty")
	ErrContentTooLong        = InvalidArg("message content is too long")
	ErrSenderIsReceiver      = InvalidArg("sender and receiver must differ")
	ErrUserNotFound          = NotFound("user not found")
	ErrConversationNotFound  = NotFound("conversation not found")
	ErrParticipantMismatch   = NotFound("conversation participants do not match")
	ErrNotParticipant        = Forbidden("user is not a participant of this conversation")
	ErrInvalidConversationID = InvalidArg("invalid conversation id")
	ErrInvalidUserID         = InvalidArg("invalid user id")
	ErrUnauthenticated       = Unauthorized("authentication required")
)

func ErrStoreUnavailable(cause error) error {
	return Unavailable("message store unavailable", cause)
}
