// Package session implements the Session Database: the
// authoritative state machine for (authn_event, authz_request, subject,
// code, access_token, refresh_token) tuples, plus subject derivation and
// the single-sign-on lookups layered on top of it.
package session

import "time"

// AuthnEvent is a fact: user UID was authenticated at AuthnTime by method
// AuthnInfo, valid for a bounded window. It is immutable after creation.
type AuthnEvent struct {
	UID string
	Salt string
	AuthnTime time.Time
	AuthnInfo string
	ValidUntil time.Time
}

// NewAuthnEvent builds an AuthnEvent valid from now for validFor.
func NewAuthnEvent(uid, salt, authnInfo string, now time.Time, validFor time.Duration) AuthnEvent {
	return AuthnEvent{
		UID: uid,
		Salt: salt,
		AuthnTime: now,
		AuthnInfo: authnInfo,
		ValidUntil: now.Add(validFor),
	}
}

// Valid reports whether the event is still within its validity window at now.
func (ae AuthnEvent) Valid(now time.Time) bool {
	return now.Before(ae.ValidUntil)
}

// ResponseType enumerates the values the response_type request parameter
// may carry, in the order the client requested them.
type ResponseType string

const (
	ResponseTypeCode ResponseType = "code"
	ResponseTypeToken ResponseType = "token"
	ResponseTypeIDToken ResponseType = "id_token"
	ResponseTypeNone ResponseType = "none"
)

// Scope is the 'scope' request parameter: a set of strings, order-insensitive.
type Scope []string

// Has reports whether name is present in the scope set.
func (s Scope) Has(name string) bool {
	for _, v := range s {
		if v == name {
			return true
		}
	}
	return false
}

// OpenIDRequest is the minimal echo of an OpenID Connect request object
// (the "oidreq" field), kept verbatim across the code -> token exchange so
// endpoint glue can reconstruct the original request's shape when building
// an id_token.
type OpenIDRequest struct {
	ResponseType ResponseType
	ClientID string
	RedirectURI string
	Scope Scope
	State string
}

// AuthorizationRequest is the client's original request, minimally
// transcribed from the authorization endpoint's query parameters.
type AuthorizationRequest struct {
	ClientID string
	RedirectURI string
	Scope Scope
	ResponseType []ResponseType
	State string
	Nonce string
	Prompt string
	Claims string // opaque, caller-defined encoding of the claims parameter
	Request string // opaque "request" JWT, if the client used request object passing
}

// OAuthState is a session's position in its state machine.
type OAuthState string

const (
	OAuthStateAuthz OAuthState = "authz"
	OAuthStateToken OAuthState = "token"
	OAuthStateRefreshed OAuthState = "refreshed"
	OAuthStateRevoked OAuthState = "revoked"
)

// Info is the central session record, keyed by a server-generated
// session id that is never itself stored inside Info.
type Info struct {
	ClientID string
	AuthnReq AuthorizationRequest
	AuthnEvent AuthnEvent
	Sub string
	OAuthState OAuthState
	Code string

	AccessToken string
	RefreshToken string
	IDToken string
	TokenType string
	ExpiresIn int64
	OIDReq *OpenIDRequest

	Revoked bool
	CodeUsed bool
}

// Fields projects Info onto a sparse map: optional fields are present
// only when populated, mirroring a Python dict that simply never gained
// the key.
func (i Info) Fields() map[string]interface{} {
	f := map[string]interface{}{
		"client_id": i.ClientID,
		"authn_req": i.AuthnReq,
		"authn_event": i.AuthnEvent,
		"oauth_state": i.OAuthState,
		"code": i.Code,
	}
	if i.Sub != "" {
		f["sub"] = i.Sub
	}
	if i.AccessToken != "" {
		f["access_token"] = i.AccessToken
	}
	if i.RefreshToken != "" {
		f["refresh_token"] = i.RefreshToken
	}
	if i.IDToken != "" {
		f["id_token"] = i.IDToken
	}
	if i.TokenType != "" {
		f["token_type"] = i.TokenType
	}
	if i.ExpiresIn != 0 {
		f["expires_in"] = i.ExpiresIn
	}
	if i.OIDReq != nil {
		f["oidreq"] = i.OIDReq
	}
	return f
}
