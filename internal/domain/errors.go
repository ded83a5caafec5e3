package domain

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidClient           = errors.New("invalid client")
	ErrInvalidGrant            = errors.New("invalid grant")
	ErrUnauthorizedClient      = errors.New("unauthorized client")
	ErrInvalidRedirectURI      = errors.New("invalid redirect uri")
	ErrAccountLocked           = errors.New("account locked")
	ErrConcurrencyConflict     = errors.New("concurrency conflict")
	ErrDuplicateClientID       = errors.New("duplicate client id")
	ErrCodeAlreadyRedeemed     = errors.New("authorization code already redeemed")
	ErrStorageUnavailable      = errors.New("storage unavailable")
	ErrMalformed               = errors.New("malformed token")
	ErrInvalidRequest          = errors.New("invalid request")
	ErrInvalidScope            = errors.New("invalid scope")
	ErrUnsupportedGrantType    = errors.New("unsupported grant type")
	ErrUnsupportedResponseType = errors.New("unsupported response type")
	ErrNotFound                = errors.New("not found")
	ErrClientInUse             = errors.New("client has live authorizations")
	ErrDuplicateUser           = errors.New("user already exists")
	ErrDuplicateRole           = errors.New("role already exists")
	ErrLoginRequired           = errors.New("login required")
)

// OAuthCode maps an error to the code sent in the "error" field of a protocol response.
func OAuthCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidClient):
		return "invalid_client"
	case errors.Is(err, ErrInvalidGrant),
		errors.Is(err, ErrCodeAlreadyRedeemed),
		errors.Is(err, ErrAccountLocked):
		return "invalid_grant"
	case errors.Is(err, ErrUnauthorizedClient):
		return "unauthorized_client"
	case errors.Is(err, ErrInvalidScope):
		return "invalid_scope"
	case errors.Is(err, ErrUnsupportedGrantType):
		return "unsupported_grant_type"
	case errors.Is(err, ErrUnsupportedResponseType):
		return "unsupported_response_type"
	case errors.Is(err, ErrMalformed):
		return "invalid_token"
	case errors.Is(err, ErrLoginRequired):
		return "login_required"
	case errors.Is(err, ErrDuplicateClientID):
		return "invalid_client_metadata"
	case errors.Is(err, ErrConcurrencyConflict), errors.Is(err, ErrDuplicateUser), errors.Is(err, ErrDuplicateRole), errors.Is(err, ErrClientInUse):
		return "conflict"
	case errors.Is(err, ErrStorageUnavailable):
		return "temporarily_unavailable"
	case errors.Is(err, ErrInvalidRedirectURI), errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrNotFound):
		return "invalid_request"
	default:
		return "server_error"
	}
}

// HTTPStatus maps an error to the status code of a protocol response.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidClient), errors.Is(err, ErrMalformed):
		return http.StatusUnauthorized
	case errors.Is(err, ErrConcurrencyConflict),
		errors.Is(err, ErrDuplicateClientID),
		errors.Is(err, ErrDuplicateUser),
		errors.Is(err, ErrDuplicateRole),
		errors.Is(err, ErrClientInUse):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case OAuthCode(err) == "server_error":
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// Description is the human readable text sent in "error_description".
func Description(err error) string {
	switch {
	case errors.Is(err, ErrAccountLocked):
		return "The account is locked out."
	case errors.Is(err, ErrCodeAlreadyRedeemed):
		return "The authorization code has already been redeemed."
	case errors.Is(err, ErrInvalidRedirectURI):
		return "The redirect_uri is not registered for this client."
	case errors.Is(err, ErrStorageUnavailable):
		return "The server is temporarily unavailable, retry later."
	case OAuthCode(err) == "server_error":
		return "An internal error occurred."
	default:
		return err.Error()
	}
}
