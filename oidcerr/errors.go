// Package oidcerr defines the error taxonomy shared by the session, token
// and client-authentication packages. Every error a collaborator can raise
// surfaces as one of these sentinels so that callers can branch with
// errors.Is instead of string matching, and so that out-of-scope endpoint
// glue can map a sentinel straight to an OAuth2 wire error code.
package oidcerr

import "errors"

// Kinds of failure a caller of this module needs to distinguish. Names
// follow the taxonomy in the reference implementation's client_authn and
// token_handler modules.
var (
	// ErrAuthnFailure means a client credential was presented but did not verify.
	ErrAuthnFailure = errors.New("client credential did not verify")

	// ErrUnknownAuthnMethod means no recognizable credential was found in the request.
	ErrUnknownAuthnMethod = errors.New("no client authentication method recognized in request")

	// ErrNotForMe means a JWT's aud claim does not name this server.
	ErrNotForMe = errors.New("jwt audience does not match this server")

	// ErrNoMatchingKey means JWS verification had no usable key for the signature's alg/kid.
	ErrNoMatchingKey = errors.New("no matching key for signature verification")

	// ErrMissingKey is ErrNoMatchingKey's counterpart when the key provider has no keys at all.
	ErrMissingKey = errors.New("no keys available for verification")

	// ErrAccessCodeUsed means an authorization code was exchanged a second time.
	ErrAccessCodeUsed = errors.New("authorization code already used")

	// ErrWrongTokenType means the caller presented a token of the wrong kind for the operation.
	ErrWrongTokenType = errors.New("wrong token type")

	// ErrExpiredToken means a token's TTL elapsed, or it was poisoned by code replay.
	ErrExpiredToken = errors.New("token expired")

	// ErrMalformed means a token string did not decode to a well-formed payload.
	ErrMalformed = errors.New("malformed token")

	// ErrKeyError means a sid or client_id was not found where one was expected.
	ErrKeyError = errors.New("key not found")

	// ErrNotFound is ErrKeyError's counterpart for collaborators (registry, store) that
	// distinguish "absent" from other I/O failures.
	ErrNotFound = errors.New("not found")

	// ErrReplayedJTI means a client assertion's jti was already seen within its validity window.
	ErrReplayedJTI = errors.New("jwt jti replayed")
)

// WireCode is the OAuth2/OIDC wire-level error code an endpoint should
// surface for a given sentinel, mirroring the constant tables endpoint
// glue keeps alongside its HTTP framing.
func WireCode(err error) string {
	switch {
	case errors.Is(err, ErrAccessCodeUsed), errors.Is(err, ErrExpiredToken):
		return "invalid_grant"
	case errors.Is(err, ErrWrongTokenType), errors.Is(err, ErrNotForMe),
		errors.Is(err, ErrNoMatchingKey), errors.Is(err, ErrMissingKey),
		errors.Is(err, ErrMalformed), errors.Is(err, ErrUnknownAuthnMethod):
		return "invalid_request"
	case errors.Is(err, ErrAuthnFailure):
		return "invalid_client"
	case errors.Is(err, ErrKeyError), errors.Is(err, ErrNotFound):
		return "invalid_request"
	default:
		return "server_error"
	}
}

// StatusHint is the rough HTTP status class §7 associates with a sentinel,
// left as a hint for endpoint glue rather than baked into this package.
func StatusHint(err error) int {
	switch {
	case errors.Is(err, ErrAuthnFailure):
		return 401
	case errors.Is(err, ErrKeyError), errors.Is(err, ErrNotFound):
		return 404
	default:
		return 400
	}
}
