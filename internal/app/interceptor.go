package app

import (
	"context"
	stderrors "errors"

	"google.golang.org/grpc"

	"github.com/openguild/turnengine/internal/platform/errors"
)

// errorUnaryInterceptor converts domain errors escaping any registered
// service handler into localized gRPC statuses with error details. Errors
// that already are statuses (or otherwise not domain errors) pass through
// untouched.
func errorUnaryInterceptor(locale string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		var domainErr *errors.Error
		if stderrors.As(err, &domainErr) {
			return resp, errors.HandleError(err, locale)
		}
		return resp, err
	}
}
