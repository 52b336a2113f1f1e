package api

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/tilechat/internal/auth"
	"github.com/matheus3301/tilechat/internal/httpclient"
	intsync "github.com/matheus3301/tilechat/internal/sync"
)

// toStatus maps a core error onto a gRPC status.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	return grpcstatus.Error(codeOf(err), err.Error())
}

func codeOf(err error) codes.Code {
	switch {
	case isAuthError(err):
		return codes.Unauthenticated
	case errors.Is(err, intsync.ErrNoActiveConversation),
		errors.Is(err, intsync.ErrEmptyMessage):
		return codes.InvalidArgument
	case errors.Is(err, httpclient.ErrNoResponse):
		return codes.Unavailable
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	}
	var apiErr *httpclient.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		return codes.InvalidArgument
	}
	return codes.Internal
}

func isAuthError(err error) bool {
	return errors.Is(err, auth.ErrNotAuthenticated) ||
		errors.Is(err, auth.ErrNoToken) ||
		httpclient.IsUnauthorized(err)
}
