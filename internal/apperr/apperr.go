// Package apperr defines the structured error taxonomy shared by the REST
// surface and the WebSocket gateway. Every authentication failure is
// normalized into one of these values before it reaches a client.
package apperr

import "net/http"

// Error is a client-visible error with a stable machine code.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

func (e *Error) Error() string { return e.Code }

var (
	AuthenticationRequired = &Error{
		Code:       "AUTHENTICATION_REQUIRED",
		Message:    "Authentication is required to access this resource.",
		StatusCode: http.StatusUnauthorized,
	}
	InvalidUserToken = &Error{
		Code:       "INVALID_USER_TOKEN",
		Message:    "The user token provided is invalid.",
		StatusCode: http.StatusUnauthorized,
	}
	NoRefreshToken = &Error{
		Code:       "NO_REFRESH_TOKEN",
		Message:    "No refresh token provided.",
		StatusCode: http.StatusBadRequest,
	}
	InvalidOrExpiredRefreshToken = &Error{
		Code:       "INVALID_OR_EXPIRED_REFRESH_TOKEN",
		Message:    "The refresh token is invalid or has expired.",
		StatusCode: http.StatusUnauthorized,
	}
	SessionPersistFailed = &Error{
		Code:       "SESSION_PERSIST_FAILED",
		Message:    "Failed to persist the session.",
		StatusCode: http.StatusInternalServerError,
	}
	TokenGenerationFailed = &Error{
		Code:       "TOKEN_GENERATION_FAILED",
		Message:    "Failed to generate authentication tokens.",
		StatusCode: http.StatusInternalServerError,
	}
	InvalidEmailPassword = &Error{
		Code:       "INVALID_EMAIL_PASSWORD",
		Message:    "The provided email or password is incorrect.",
		StatusCode: http.StatusUnauthorized,
	}
	EmailExists = &Error{
		Code:       "EMAIL_EXISTS",
		Message:    "A user with this email already exists.",
		StatusCode: http.StatusBadRequest,
	}
	UsernameTaken = &Error{
		Code:       "USERNAME_TAKEN",
		Message:    "This username is already taken.",
		StatusCode: http.StatusBadRequest,
	}
	UserNotFound = &Error{
		Code:       "USER_NOT_FOUND",
		Message:    "User not found.",
		StatusCode: http.StatusNotFound,
	}
	RegistrationFailed = &Error{
		Code:       "REGISTRATION_FAILED",
		Message:    "Failed to register the user.",
		StatusCode: http.StatusInternalServerError,
	}
	InvalidVerificationToken = &Error{
		Code:       "INVALID_VERIFICATION_TOKEN",
		Message:    "The verification token is invalid or has expired.",
		StatusCode: http.StatusUnauthorized,
	}
)
