package errors

import (
	stderrors "errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/openguild/turnengine/internal/platform/errors/i18n"
)

// DefaultLocale is the default locale for error messages.
const DefaultLocale = i18n.BaseLocale

// HandleError converts domain errors to gRPC statuses for client responses.
// The user-facing message is rendered through the i18n catalog for the given
// locale, defaulting to en-US when the locale is empty.
func HandleError(err error, locale string) error {
	if err == nil {
		return nil
	}
	if locale == "" {
		locale = DefaultLocale
	}

	var domainErr *Error
	if stderrors.As(err, &domainErr) {
		catalog := i18n.GetCatalog(locale)
		userMsg := catalog.Format(string(domainErr.Code), domainErr.Metadata)
		return domainErr.ToGRPCStatus(catalog.Locale(), userMsg)
	}

	return status.Error(codes.Internal, "an unexpected error occurred")
}
