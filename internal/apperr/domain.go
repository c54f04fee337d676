package apperr

var (
	ErrUsernameTaken      = AlreadyExists("username is already taken")
	ErrUserNotFound       = NotFound("user not found")
	ErrInvalidUsername    = InvalidArg("username must be 3-32 chars, lowercase letters, numbers and underscores only")
	ErrInvalidPassword    = InvalidArg("password must be at least 8 characters")
	ErrInvalidCredentials = Unauthorized("invalid username or password")
	ErrSessionExpired     = Unauthorized("session expired or revoked")

	ErrConversationNotFound = NotFound("conversation not found")
	ErrNotParticipant       = Forbidden("not a participant of this conversation")
	ErrNotAdmin             = Forbidden("only conversation admins can do that")
	ErrInvalidConversation  = InvalidArg("invalid conversation type")
	ErrGroupNameRequired    = InvalidArg("group conversations need a name")
	ErrDirectPeer           = InvalidArg("direct conversations need exactly one other participant")
	ErrSelfConversation     = InvalidArg("cannot start a conversation with yourself")
	ErrDirectMembership     = FailedPrecondition("direct conversation membership is fixed")
	ErrMissingKey           = FailedPrecondition("conversation has no encryption key")

	ErrEmptyMessage   = InvalidArg("message content cannot be empty")
	ErrMessageTooLong = InvalidArg("message content is too long")
)
