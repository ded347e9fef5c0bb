// Package ssodb maintains the derived single-sign-on indices sub ->
// {sid} and uid -> {sub}, plus the reverse sid -> sub link needed to
// clean up both when a session is removed. Truth lives in the session
// database; this is a cache kept consistent with it by the caller, not
// an independent source of state.
package ssodb

import "sync"

// SSODb is safe for concurrent use. Its own lock is independent of any
// per-sid lock the caller holds; callers update SSODb after committing the
// session write it derives from, never before.
type SSODb struct {
	mu sync.Mutex

	subToSIDs map[string]map[string]struct{}
	uidToSubs map[string]map[string]struct{}
	sidToSub map[string]string
}

// New returns an empty SSODb.
func New() *SSODb {
	return &SSODb{
		subToSIDs: make(map[string]map[string]struct{}),
		uidToSubs: make(map[string]map[string]struct{}),
		sidToSub: make(map[string]string),
	}
}

// MapSubSID records that sub was (re)computed for sid, rotating out any
// prior sub that sid had mapped to.
func (s *SSODb) MapSubSID(sub, sid string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.sidToSub[sid]; ok && prev != sub {
		s.removeSIDFromSub(prev, sid)
	}
	s.sidToSub[sid] = sub
	if s.subToSIDs[sub] == nil {
		s.subToSIDs[sub] = make(map[string]struct{})
	}
	s.subToSIDs[sub][sid] = struct{}{}
}

// MapUIDSub records that uid authenticated as sub for some client.
func (s *SSODb) MapUIDSub(uid, sub string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.uidToSubs[uid] == nil {
		s.uidToSubs[uid] = make(map[string]struct{})
	}
	s.uidToSubs[uid][sub] = struct{}{}
}

// GetSIDsBySub returns every session id currently mapped to sub.
func (s *SSODb) GetSIDsBySub(sub string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.subToSIDs[sub]))
	for sid := range s.subToSIDs[sub] {
		out = append(out, sid)
	}
	return out
}

// GetSubsByUID returns every subject identifier derived for uid across clients.
func (s *SSODb) GetSubsByUID(uid string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.uidToSubs[uid]))
	for sub := range s.uidToSubs[uid] {
		out = append(out, sub)
	}
	return out
}

// RemoveSID deletes sid from every index it appears in. The uid -> sub
// mapping is left untouched: it reflects a user's history of sign-ins, not
// the lifetime of any one session.
func (s *SSODb) RemoveSID(sid string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.sidToSub[sid]
	if !ok {
		return
	}
	s.removeSIDFromSub(sub, sid)
	delete(s.sidToSub, sid)
}

// removeSIDFromSub must be called with s.mu held.
func (s *SSODb) removeSIDFromSub(sub, sid string) {
	if sids, ok := s.subToSIDs[sub]; ok {
		delete(sids, sid)
		if len(sids) == 0 {
			delete(s.subToSIDs, sub)
		}
	}
}
