package session

import (
	"errors"
	"sort"
	"sync"
)

var (
	errAppendOutsideCapture = errors.New("audio can only be appended while capturing")
	errPauseOutsideCapture  = errors.New("pause and resume apply only while capturing")
	errAcceptOutsideCapture = errors.New("artifacts can only be accepted while capturing")
	errStopOutsideCapture   = errors.New("stop applies only while capturing")
	errDiscardFinished      = errors.New("finished sessions cannot be discarded")
	errEditBeforeComplete   = errors.New("notes can only be edited after completion")
	errExportBeforeComplete = errors.New("only complete sessions can be exported")
)

// registry is the in-memory session table. All access to session fields goes
// through with(), which holds the lock for the duration of fn; fn must not
// call engines, generators, or anything else that blocks.
type registry struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*session)}
}

func (r *registry) put(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.id] = s
}

func (r *registry) with(id string, fn func(*session) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return &Error{Kind: KindNotFound}
	}
	return fn(s)
}

func (r *registry) remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return &Error{Kind: KindNotFound}
	}
	delete(r.sessions, id)
	return nil
}

func (r *registry) each(fn func(*session)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return r.sessions[ids[i]].createdAt.After(r.sessions[ids[j]].createdAt)
	})
	for _, id := range ids {
		fn(r.sessions[id])
	}
}
