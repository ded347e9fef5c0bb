package session

import (
	"crypto/sha256"
	"encoding/hex"
)

// SubjectType selects the pairwise/public subject derivation branch.
type SubjectType string

const (
	SubjectTypePublic SubjectType = "public"
	SubjectTypePairwise SubjectType = "pairwise"
)

// computeSub derives a stable subject identifier for (uid, client_salt,
// sector_id, subject_type). Both branches fold in the originating
// AuthnEvent's own salt; only the pairwise branch also uses the per-client
// salt the caller supplies: the public branch is SHA256(uid ‖ authn_salt),
// with client_salt ignored, and the pairwise branch
// adds the sector id and client salt ahead of it, SHA256(uid ‖ sector_id ‖
// client_salt ‖ authn_salt). authn_salt comes from the session's AuthnEvent
// and is fixed for the life of the session; only client_salt and sector_id
// vary between repeated do_sub calls on the same sid.
func computeSub(uid, authnSalt, clientSalt, sectorID string, subjectType SubjectType) string {
	h := sha256.New()
	h.Write([]byte(uid))
	if subjectType == SubjectTypePairwise {
		h.Write([]byte(sectorID))
		h.Write([]byte(clientSalt))
	}
	h.Write([]byte(authnSalt))
	return hex.EncodeToString(h.Sum(nil))
}
