package handlers

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"partner_portal/internal/chat"
)

func TestChatStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{chat.ErrForbidden, http.StatusForbidden},
		{chat.ErrNotMessageOwner, http.StatusForbidden},
		{chat.ErrChatNotFound, http.StatusNotFound},
		{chat.ErrMessageNotFound, http.StatusNotFound},
		{chat.ErrCheckerNotFound, http.StatusNotFound},
		// no assignable checker means the chat cannot exist yet, a
		// not-found condition rather than a bad request
		{chat.ErrNoCheckerAvailable, http.StatusNotFound},
		{chat.ErrEmptyMessage, http.StatusBadRequest},
		{chat.ErrQuotedMessageInvalid, http.StatusBadRequest},
		{chat.ErrBadCursor, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, chatStatus(tc.err), "error: %v", tc.err)
	}
}
