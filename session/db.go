package session

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/coreos/oidcprovider/kvstore"
	"github.com/coreos/oidcprovider/oidcerr"
	"github.com/coreos/oidcprovider/ssodb"
	"github.com/coreos/oidcprovider/token"
)

// GenerateSIDFunc mints a fresh session id. Config.GenerateSID replaces the
// default, e.g. to get deterministic, predictable session ids.
type GenerateSIDFunc func() string

// DefaultGenerateSID returns a UUIDv4 string, giving a sid 128 bits of entropy.
func DefaultGenerateSID() string {
	return uuid.NewString()
}

// GrantPolicy decides, beyond an explicit issue_refresh request, whether a
// refresh token should be minted for a given authorization request. The
// default policy grants one whenever offline_access is in scope.
type GrantPolicy func(req AuthorizationRequest) bool

// DefaultGrantPolicy grants a refresh token only when the client asked for
// the offline_access scope.
func DefaultGrantPolicy(req AuthorizationRequest) bool {
	return req.Scope.Has("offline_access")
}

// Config configures a DB. All fields are optional; zero values fall back
// to sane defaults. Kept as a plain struct, not a loaded file: this
// package defines no on-disk config format of its own.
type Config struct {
	Clock clockwork.Clock
	GenerateSID GenerateSIDFunc
	GrantPolicy GrantPolicy
	Logger logrus.FieldLogger
}

// DB is the Session Database: the only component that
// mutates Info records. Every multi-field write (Info + reverse index +
// SSODb) is performed under the sid's own lock, acquired before the
// reverse index's internal lock, never after.
type DB struct {
	sidLocks sync.Map // sid -> *sync.Mutex, the explicit per-sid lock map this package asks for

	store kvstore.Store[Info]
	reverse kvstore.Store[string] // token -> sid
	sso *ssodb.SSODb
	tokens *token.Handler

	clock clockwork.Clock
	generateSID GenerateSIDFunc
	grantPolicy GrantPolicy
	logger logrus.FieldLogger
}

// New builds a DB over an in-memory store, SSO index and token handler.
// Callers that need a different KV backend should build DB fields directly;
// New is the convenience constructor the reference in-memory deployment uses.
func New(tokens *token.Handler, cfg Config) *DB {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.GenerateSID == nil {
		cfg.GenerateSID = DefaultGenerateSID
	}
	if cfg.GrantPolicy == nil {
		cfg.GrantPolicy = DefaultGrantPolicy
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &DB{
		store: kvstore.NewMemory[Info](),
		reverse: kvstore.NewMemory[string](),
		sso: ssodb.New(),
		tokens: tokens,
		clock: cfg.Clock,
		generateSID: cfg.GenerateSID,
		grantPolicy: cfg.GrantPolicy,
		logger: cfg.Logger,
	}
}

func (db *DB) lock(sid string) func() {
	v, _ := db.sidLocks.LoadOrStore(sid, &sync.Mutex{})
	l := v.(*sync.Mutex)
	l.Lock()
	return l.Unlock
}

// CreateAuthzSession allocates a fresh sid, mints its authorization code and
// initializes the session in the `authz` state. It does not compute sub;
// callers invoke DoSub separately once the subject is known.
func (db *DB) CreateAuthzSession(ae AuthnEvent, req AuthorizationRequest, clientID string, idToken string, oidreq *OpenIDRequest) (string, error) {
	sid := db.generateSID()
	code, _, err := db.tokens.Mint(token.KindAuthCode)
	if err != nil {
		return "", errors.Wrap(err, "session: minting authorization code")
	}

	info := Info{
		ClientID: clientID,
		AuthnReq: req,
		AuthnEvent: ae,
		OAuthState: OAuthStateAuthz,
		Code: code,
		IDToken: idToken,
		OIDReq: oidreq,
	}

	unlock := db.lock(sid)
	defer unlock()

	if err := db.store.Put(sid, info); err != nil {
		return "", errors.Wrap(err, "session: storing new session")
	}
	if err := db.reverse.Put(code, sid); err != nil {
		return "", errors.Wrap(err, "session: registering authorization code")
	}

	db.logger.WithFields(logrus.Fields{"sid": sid, "client_id": clientID}).Debug("created authorization session")
	return sid, nil
}

// DoSub computes and stores the subject identifier for sid. It may be
// called repeatedly to rotate sub; each call overwrites the previous value.
func (db *DB) DoSub(sid, clientSalt string, sectorID string, subjectType SubjectType) (string, error) {
	if subjectType == "" {
		subjectType = SubjectTypePublic
	}

	unlock := db.lock(sid)
	defer unlock()

	info, err := db.store.Get(sid)
	if err != nil {
		return "", oidcerr.ErrKeyError
	}

	sub := computeSub(info.AuthnEvent.UID, info.AuthnEvent.Salt, clientSalt, sectorID, subjectType)
	info.Sub = sub

	if err := db.store.Put(sid, info); err != nil {
		return "", errors.Wrap(err, "session: storing sub")
	}
	db.sso.MapUIDSub(info.AuthnEvent.UID, sub)
	db.sso.MapSubSID(sub, sid)

	return sub, nil
}

// UpgradeToToken exchanges a not-yet-used authorization code for an access
// token, and optionally a refresh token.
func (db *DB) UpgradeToToken(grant string, issueRefresh bool) (Info, error) {
	claims, err := db.tokens.RequireKind(grant, token.KindAuthCode)
	if err != nil {
		return Info{}, err
	}

	sid, err := db.reverse.Get(grant)
	if err != nil {
		return Info{}, oidcerr.ErrKeyError
	}

	unlock := db.lock(sid)
	defer unlock()

	info, err := db.store.Get(sid)
	if err != nil {
		return Info{}, oidcerr.ErrKeyError
	}

	if info.CodeUsed {
		db.poisonLocked(sid, &info)
		return Info{}, oidcerr.ErrAccessCodeUsed
	}
	if db.clock.Now().After(claims.Expiry) {
		return Info{}, oidcerr.ErrExpiredToken
	}

	info.CodeUsed = true

	accessToken, expiresIn, err := db.tokens.Mint(token.KindAccessToken)
	if err != nil {
		return Info{}, errors.Wrap(err, "session: minting access token")
	}
	if info.AccessToken != "" {
		// At most one live access token per session.
		_ = db.reverse.Delete(info.AccessToken)
	}
	info.AccessToken = accessToken
	info.TokenType = "Bearer"
	info.ExpiresIn = expiresIn
	info.OAuthState = OAuthStateToken

	if issueRefresh || db.grantPolicy(info.AuthnReq) {
		refreshToken, _, err := db.tokens.Mint(token.KindRefreshToken)
		if err != nil {
			return Info{}, errors.Wrap(err, "session: minting refresh token")
		}
		info.RefreshToken = refreshToken
	}

	if err := db.store.Put(sid, info); err != nil {
		return Info{}, errors.Wrap(err, "session: storing upgraded session")
	}
	if err := db.reverse.Put(info.AccessToken, sid); err != nil {
		return Info{}, errors.Wrap(err, "session: registering access token")
	}
	if info.RefreshToken != "" {
		if err := db.reverse.Put(info.RefreshToken, sid); err != nil {
			return Info{}, errors.Wrap(err, "session: registering refresh token")
		}
	}

	db.logger.WithFields(logrus.Fields{"sid": sid}).Debug("upgraded authorization code to token")
	return info, nil
}

// poisonLocked is called when a used code is exchanged a second time: it
// marks the session revoked so every token derived from that code — access,
// refresh, or a future refresh_token call against it — reads back as
// ExpiredToken rather than silently disappearing. Caller must hold sid's lock.
func (db *DB) poisonLocked(sid string, info *Info) {
	info.Revoked = true
	_ = db.store.Put(sid, *info)
}

// RefreshToken mints a new access token for the session backing rtoken,
// replacing the previous one. The refresh token itself is not rotated.
func (db *DB) RefreshToken(rtoken, clientID string) (Info, error) {
	claims, err := db.tokens.RequireKind(rtoken, token.KindRefreshToken)
	if err != nil {
		return Info{}, err
	}

	sid, err := db.reverse.Get(rtoken)
	if err != nil {
		return Info{}, oidcerr.ErrKeyError
	}

	unlock := db.lock(sid)
	defer unlock()

	info, err := db.store.Get(sid)
	if err != nil {
		return Info{}, oidcerr.ErrKeyError
	}
	if info.ClientID != clientID {
		return Info{}, oidcerr.ErrKeyError
	}
	if info.Revoked || db.clock.Now().After(claims.Expiry) {
		return Info{}, oidcerr.ErrExpiredToken
	}

	accessToken, expiresIn, err := db.tokens.Mint(token.KindAccessToken)
	if err != nil {
		return Info{}, errors.Wrap(err, "session: minting refreshed access token")
	}
	if info.AccessToken != "" {
		_ = db.reverse.Delete(info.AccessToken)
	}
	info.AccessToken = accessToken
	info.ExpiresIn = expiresIn
	info.OAuthState = OAuthStateRefreshed

	if err := db.store.Put(sid, info); err != nil {
		return Info{}, errors.Wrap(err, "session: storing refreshed session")
	}
	if err := db.reverse.Put(accessToken, sid); err != nil {
		return Info{}, errors.Wrap(err, "session: registering refreshed access token")
	}

	return info, nil
}

// RevokeToken removes token from the reverse index; if it is the session's
// current access or refresh token that field is cleared. Revoking the
// authorization code transitively revokes whatever it minted.
func (db *DB) RevokeToken(tok string) error {
	sid, err := db.reverse.Get(tok)
	if err != nil {
		return oidcerr.ErrKeyError
	}

	unlock := db.lock(sid)
	defer unlock()

	info, err := db.store.Get(sid)
	if err != nil {
		return oidcerr.ErrKeyError
	}

	_ = db.reverse.Delete(tok)

	switch tok {
	case info.Code:
		if info.AccessToken != "" {
			_ = db.reverse.Delete(info.AccessToken)
		}
		if info.RefreshToken != "" {
			_ = db.reverse.Delete(info.RefreshToken)
		}
		info.Revoked = true
	case info.AccessToken:
		info.AccessToken = ""
	case info.RefreshToken:
		info.RefreshToken = ""
	}

	if err := db.store.Put(sid, info); err != nil {
		return errors.Wrap(err, "session: storing revoked session")
	}
	if info.Revoked {
		db.sso.RemoveSID(sid)
	}
	return nil
}

// IsValid reports whether tok is registered, unexpired, not revoked, and
// still the session's current token of its kind.
func (db *DB) IsValid(tok string) bool {
	sid, err := db.reverse.Get(tok)
	if err != nil {
		return false
	}
	info, err := db.store.Get(sid)
	if err != nil {
		return false
	}
	if info.Revoked {
		return false
	}
	if db.tokens.IsExpired(tok) {
		return false
	}
	return tok == info.Code || tok == info.AccessToken || tok == info.RefreshToken
}

// GetSIDsBySub returns every session id currently mapped to sub.
func (db *DB) GetSIDsBySub(sub string) []string {
	return db.sso.GetSIDsBySub(sub)
}

// Get returns the raw Info for sid, analogous to a dict's __getitem__.
func (db *DB) Get(sid string) (Info, error) {
	unlock := db.lock(sid)
	defer unlock()

	info, err := db.store.Get(sid)
	if err != nil {
		return Info{}, oidcerr.ErrKeyError
	}
	return info, nil
}

// Set overwrites the Info for sid, analogous to a dict's __setitem__,
// used by endpoints that must stash small fields such as sub directly.
func (db *DB) Set(sid string, info Info) error {
	unlock := db.lock(sid)
	defer unlock()

	return db.store.Put(sid, info)
}
