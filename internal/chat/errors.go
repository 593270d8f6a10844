package chat

import "errors"

var (
	ErrForbidden            = errors.New("not allowed to access this chat")
	ErrChatNotFound         = errors.New("chat not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrNotMessageOwner      = errors.New("message belongs to another user")
	ErrEmptyMessage         = errors.New("message text or attachments required")
	ErrQuotedMessageInvalid = errors.New("quoted message not found in this chat")
	ErrCheckerNotFound      = errors.New("requested checker not found")
	ErrNoCheckerAvailable   = errors.New("no checker available for this chat")
	ErrBadCursor            = errors.New("invalid cursor value")
)
