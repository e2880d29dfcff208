package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// FailureReason is the stable machine-readable cause of a failed connection flow.
type FailureReason string

const (
	ReasonUnsupportedPlatform     FailureReason = "unsupported_platform"
	ReasonPlatformDisabled        FailureReason = "platform_disabled"
	ReasonUnauthenticated         FailureReason = "unauthenticated"
	ReasonMissingCode             FailureReason = "missing_code"
	ReasonMissingState            FailureReason = "missing_state"
	ReasonStateNotFound           FailureReason = "state_not_found"
	ReasonStateMismatch           FailureReason = "state_mismatch"
	ReasonProviderDenied          FailureReason = "provider_denied"
	ReasonTokenExchangeFailed     FailureReason = "token_exchange_failed"
	ReasonAccountLookupFailed     FailureReason = "account_lookup_failed"
	ReasonNoAccountsFound         FailureReason = "no_accounts_found"
	ReasonConnectionLimitExceeded FailureReason = "connection_limit_exceeded"
	ReasonConfigurationError      FailureReason = "configuration_error"
	ReasonAccountNotFound         FailureReason = "account_not_found"
	ReasonBadInput                FailureReason = "bad_input"
	ReasonInternal                FailureReason = "internal"
)

const (
	ErrorUnsupportedPlatform     = "ADCONNECT_UNSUPPORTED_PLATFORM"
	ErrorPlatformDisabled        = "ADCONNECT_PLATFORM_DISABLED"
	ErrorUnauthenticated         = "ADCONNECT_UNAUTHENTICATED"
	ErrorMissingCode             = "ADCONNECT_MISSING_CODE"
	ErrorMissingState            = "ADCONNECT_MISSING_STATE"
	ErrorStateNotFound           = "ADCONNECT_STATE_NOT_FOUND"
	ErrorStateMismatch           = "ADCONNECT_STATE_MISMATCH"
	ErrorProviderDenied          = "ADCONNECT_PROVIDER_DENIED"
	ErrorTokenExchangeFailed     = "ADCONNECT_TOKEN_EXCHANGE_FAILED"
	ErrorAccountLookupFailed     = "ADCONNECT_ACCOUNT_LOOKUP_FAILED"
	ErrorNoAccountsFound         = "ADCONNECT_NO_ACCOUNTS_FOUND"
	ErrorConnectionLimitExceeded = "ADCONNECT_CONNECTION_LIMIT_EXCEEDED"
	ErrorConfiguration           = "ADCONNECT_CONFIGURATION_ERROR"
	ErrorAccountNotFound         = "ADCONNECT_ACCOUNT_NOT_FOUND"
	ErrorBadInput                = "ADCONNECT_BAD_INPUT"
	ErrorInternal                = "ADCONNECT_INTERNAL_ERROR"
)

var (
	ErrStateNotFound   = errors.New("core: oauth state not found")
	ErrAccountNotFound = errors.New("core: connected account not found")
	ErrLimitExceeded   = errors.New("core: connection limit exceeded")
)

const unverifiedConnectionMessage = "The connection could not be verified. Please try again."

// PublicCodeConnectionNotVerified is the code users see for both a state
// mismatch and a provider denial.
const PublicCodeConnectionNotVerified = "connection_not_verified"

type reasonSpec struct {
	textCode    string
	category    goerrors.Category
	status      int
	userMessage string
}

var reasonSpecs = map[FailureReason]reasonSpec{
	ReasonUnsupportedPlatform: {
		ErrorUnsupportedPlatform, goerrors.CategoryNotFound, http.StatusNotFound,
		"This advertising platform is not supported.",
	},
	ReasonPlatformDisabled: {
		ErrorPlatformDisabled, goerrors.CategoryOperation, http.StatusConflict,
		"This advertising platform is currently unavailable.",
	},
	ReasonUnauthenticated: {
		ErrorUnauthenticated, goerrors.CategoryAuth, http.StatusUnauthorized,
		"Please sign in to connect an advertising account.",
	},
	ReasonMissingCode: {
		ErrorMissingCode, goerrors.CategoryBadInput, http.StatusBadRequest,
		"The authorization response was incomplete. Please try again.",
	},
	ReasonMissingState: {
		ErrorMissingState, goerrors.CategoryBadInput, http.StatusBadRequest,
		"The authorization response was incomplete. Please try again.",
	},
	ReasonStateNotFound: {
		ErrorStateNotFound, goerrors.CategoryAuth, http.StatusUnauthorized,
		"Your connection attempt expired. Please start again.",
	},
	ReasonStateMismatch: {
		ErrorStateMismatch, goerrors.CategoryAuth, http.StatusForbidden,
		unverifiedConnectionMessage,
	},
	ReasonProviderDenied: {
		ErrorProviderDenied, goerrors.CategoryAuthz, http.StatusForbidden,
		unverifiedConnectionMessage,
	},
	ReasonTokenExchangeFailed: {
		ErrorTokenExchangeFailed, goerrors.CategoryExternal, http.StatusBadGateway,
		"We could not complete the connection with the platform. Please try again.",
	},
	ReasonAccountLookupFailed: {
		ErrorAccountLookupFailed, goerrors.CategoryExternal, http.StatusBadGateway,
		"We could not read your advertising accounts. Please try again.",
	},
	ReasonNoAccountsFound: {
		ErrorNoAccountsFound, goerrors.CategoryNotFound, http.StatusUnprocessableEntity,
		"No advertising accounts were found for this login.",
	},
	ReasonConnectionLimitExceeded: {
		ErrorConnectionLimitExceeded, goerrors.CategoryConflict, http.StatusConflict,
		"You have reached the maximum number of connected accounts for your plan.",
	},
	ReasonConfigurationError: {
		ErrorConfiguration, goerrors.CategoryInternal, http.StatusInternalServerError,
		"Something went wrong on our side. Please try again later.",
	},
	ReasonAccountNotFound: {
		ErrorAccountNotFound, goerrors.CategoryNotFound, http.StatusNotFound,
		"The advertising account is not connected.",
	},
	ReasonBadInput: {
		ErrorBadInput, goerrors.CategoryBadInput, http.StatusBadRequest,
		"The request is invalid.",
	},
	ReasonInternal: {
		ErrorInternal, goerrors.CategoryInternal, http.StatusInternalServerError,
		"Something went wrong on our side. Please try again later.",
	},
}

var textCodeReasons = func() map[string]FailureReason {
	out := make(map[string]FailureReason, len(reasonSpecs))
	for reason, spec := range reasonSpecs {
		out[spec.textCode] = reason
	}
	return out
}()

// metadataFailureReason keeps the reason readable after an outer layer
// replaces the text code of a cloned envelope.
const metadataFailureReason = "failure_reason"

// NewFailure builds the error envelope for a failure reason. The message is
// server-side detail; UserMessage returns the text that may be shown to users.
func NewFailure(reason FailureReason, message string, metadata map[string]any) *goerrors.Error {
	spec, ok := reasonSpecs[reason]
	if !ok {
		spec = reasonSpecs[ReasonInternal]
	}
	if strings.TrimSpace(message) == "" {
		message = string(reason)
	}
	err := goerrors.New(message, spec.category).
		WithCode(spec.status).
		WithTextCode(spec.textCode)
	if len(metadata) > 0 {
		err.WithMetadata(RedactSensitiveMap(metadata))
	}
	return err.WithMetadata(map[string]any{metadataFailureReason: string(textCodeReasons[spec.textCode])})
}

// WrapFailure is NewFailure keeping source as the cause.
func WrapFailure(source error, reason FailureReason, message string, metadata map[string]any) *goerrors.Error {
	if source == nil {
		return NewFailure(reason, message, metadata)
	}
	spec, ok := reasonSpecs[reason]
	if !ok {
		spec = reasonSpecs[ReasonInternal]
	}
	err := goerrors.Wrap(source, spec.category, message).
		WithCode(spec.status).
		WithTextCode(spec.textCode)
	if len(metadata) > 0 {
		err.WithMetadata(RedactSensitiveMap(metadata))
	}
	return err.WithMetadata(map[string]any{metadataFailureReason: string(textCodeReasons[spec.textCode])})
}

// Failure returns the first connection-flow envelope in err's chain. The
// command dispatcher clones envelopes and overwrites their text code, so the
// returned envelope carries the text code restored from its reason.
func Failure(err error) (*goerrors.Error, bool) {
	current := err
	for current != nil {
		var richErr *goerrors.Error
		if !goerrors.As(current, &richErr) {
			return nil, false
		}
		if reason, ok := failureReason(richErr); ok {
			textCode := reasonSpecs[reason].textCode
			if richErr.TextCode == textCode {
				return richErr, true
			}
			restored := richErr.Clone()
			restored.TextCode = textCode
			return restored, true
		}
		current = richErr.Unwrap()
	}
	return nil, false
}

func failureReason(err *goerrors.Error) (FailureReason, bool) {
	if reason, ok := textCodeReasons[strings.TrimSpace(err.TextCode)]; ok {
		return reason, true
	}
	raw, _ := err.Metadata[metadataFailureReason].(string)
	if _, ok := reasonSpecs[FailureReason(raw)]; ok {
		return FailureReason(raw), true
	}
	return "", false
}

// ReasonOf extracts the failure reason carried by err. Errors without an
// envelope map to ReasonInternal.
func ReasonOf(err error) FailureReason {
	if err == nil {
		return ""
	}
	if failure, ok := Failure(err); ok {
		return textCodeReasons[strings.TrimSpace(failure.TextCode)]
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.Category {
		case goerrors.CategoryBadInput, goerrors.CategoryValidation:
			return ReasonBadInput
		case goerrors.CategoryAuth:
			return ReasonUnauthenticated
		}
	}
	return ReasonInternal
}

// PublicCode is the reason code that may be shown to users. State mismatches
// and provider denials share one code.
func PublicCode(err error) string {
	switch reason := ReasonOf(err); reason {
	case ReasonStateMismatch, ReasonProviderDenied:
		return PublicCodeConnectionNotVerified
	default:
		return string(reason)
	}
}

func IsReason(err error, reason FailureReason) bool {
	return err != nil && ReasonOf(err) == reason
}

// UserMessage returns the end-user text for err. It never contains provider
// error bodies, authorization codes or secrets.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	spec, ok := reasonSpecs[ReasonOf(err)]
	if !ok {
		spec = reasonSpecs[ReasonInternal]
	}
	return spec.userMessage
}

// HTTPStatus returns the response status for err.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if failure, ok := Failure(err); ok && failure.Code != 0 {
		return failure.Code
	}
	return reasonSpecs[ReasonOf(err)].status
}

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrStateNotFound):
		return WrapFailure(err, ReasonStateNotFound, err.Error(), nil)
	case errors.Is(err, ErrAccountNotFound):
		return WrapFailure(err, ReasonAccountNotFound, err.Error(), nil)
	case errors.Is(err, ErrLimitExceeded):
		return WrapFailure(err, ReasonConnectionLimitExceeded, err.Error(), nil)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "not registered"), strings.Contains(msg, "unsupported platform"):
		return NewFailure(ReasonUnsupportedPlatform, err.Error(), nil)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return NewFailure(ReasonBadInput, err.Error(), nil)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if reason, ok := textCodeReasons[strings.TrimSpace(err.TextCode)]; ok {
		err.WithMetadata(map[string]any{metadataFailureReason: string(reason)})
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorAccountNotFound
	case goerrors.CategoryAuth:
		return ErrorUnauthenticated
	default:
		return ErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
