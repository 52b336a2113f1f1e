package sync

import (
	"errors"
	"strings"

	"github.com/matheus3301/tilechat/internal/auth"
	"github.com/matheus3301/tilechat/internal/httpclient"
)

var (
	ErrNotAuthenticated     = auth.ErrNotAuthenticated
	ErrNoActiveConversation = errors.New("no active conversation")
	ErrEmptyMessage         = errors.New("message content is empty")
)

// describe renders err for the error slot.
func describe(err error) string {
	var apiErr *httpclient.APIError
	switch {
	case errors.Is(err, httpclient.ErrNoResponse):
		return httpclient.ErrNoResponse.Error()
	case errors.As(err, &apiErr):
		return apiErr.Message
	default:
		return strings.TrimSpace(err.Error())
	}
}
