package rp

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes carried by errors from this package.
const (
	TextCodeResponseInvalid  = "RP_RESPONSE_INVALID"
	TextCodeIssuerMismatch   = "RP_ISSUER_MISMATCH"
	TextCodeStateUnknown     = "RP_STATE_UNKNOWN"
	TextCodeStateMissing     = "RP_STATE_MISSING"
	TextCodeStateMismatch    = "RP_STATE_MISMATCH"
	TextCodeEmptyCredentials = "RP_EMPTY_CREDENTIALS"
	TextCodeLogoutRejected   = "RP_LOGOUT_REJECTED"
)

// technicalError is fatal for the current callback. The host answers it as an
// authentication failure.
func technicalError(textCode, message string) error {
	return goerrors.New(message, goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(textCode)
}

func wrapTechnical(source error, textCode, message string) error {
	if source == nil {
		return technicalError(textCode, message)
	}
	return goerrors.Wrap(source, goerrors.CategoryAuth, message).
		WithCode(http.StatusUnauthorized).
		WithTextCode(textCode)
}

// logoutRejected marks a logout request the client got wrong.
func logoutRejected(source error, message string) error {
	if source == nil {
		return goerrors.New(message, goerrors.CategoryBadInput).
			WithCode(http.StatusBadRequest).
			WithTextCode(TextCodeLogoutRejected)
	}
	return goerrors.Wrap(source, goerrors.CategoryBadInput, message).
		WithCode(http.StatusBadRequest).
		WithTextCode(TextCodeLogoutRejected)
}

// TextCode returns the text code of an error raised by this package, or "".
func TextCode(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.TextCode
	}
	return ""
}

// HTTPStatus maps an error raised by this package to a response status.
func HTTPStatus(err error) int {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Code != 0 {
		return rich.Code
	}
	return http.StatusInternalServerError
}
