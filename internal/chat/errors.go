package chat

import "errors"

var (
	// ErrPartyInvalid means a conversation party id was missing or malformed.
	ErrPartyInvalid = errors.New("chat: invalid party id")
	// ErrConversationNotFound means the referenced conversation does not exist.
	ErrConversationNotFound = errors.New("chat: conversation not found")
	// ErrStorageUnavailable means the persistence gateway could not be
	// reached for a user-intent-critical operation.
	ErrStorageUnavailable = errors.New("chat: storage unavailable")
	// ErrKindMismatch means a message payload did not match its declared kind.
	ErrKindMismatch = errors.New("chat: payload does not match message kind")
)
