// Package locker holds the rig for one owner at a time.  While it is held,
// the Check middleware answers 423 (Locked) on every protected route.
package locker

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/slscan/rig/generichttp"
)

// Inject adds GET and POST /lock to other.  POST {"bool": true} holds the
// rig on behalf of an HTTP client until POST {"bool": false}.
func Inject(other generichttp.HTTPer, l *Locker) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock"}] = l.HTTPGet
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lock"}] = l.HTTPSet
}

// LockT is the reply of GET /lock
type LockT struct {
	Bool   bool   `json:"bool"`
	Holder string `json:"holder,omitempty"`
}

// Locker is a non-blocking mutex that remembers who holds it
type Locker struct {
	mu     sync.Mutex
	holder string

	// DoNotProtect are path fragments Check lets through while held
	DoNotProtect []string
}

// New returns a Locker that never protects the lock routes themselves
func New() *Locker {
	return &Locker{DoNotProtect: []string{"lock"}}
}

// TryLock takes the locker for holder and returns true, or returns false if
// someone else has it
func (l *Locker) TryLock(holder string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder != "" {
		return false
	}
	if holder == "" {
		holder = "anonymous"
	}
	l.holder = holder
	return true
}

// Unlock releases the locker, whoever holds it
func (l *Locker) Unlock() {
	l.mu.Lock()
	l.holder = ""
	l.mu.Unlock()
}

// Holder returns who holds the locker, or "" if nobody does
func (l *Locker) Holder() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder
}

// Locked is true while someone holds the locker
func (l *Locker) Locked() bool {
	return l.Holder() != ""
}

func (l *Locker) protects(path string) bool {
	for _, str := range l.DoNotProtect {
		if strings.Contains(path, str) {
			return false
		}
	}
	return true
}

// Check is middleware replying 423 to protected routes while the locker is held
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h := l.Holder(); h != "" && l.protects(r.URL.Path) {
			http.Error(w, fmt.Sprintf("the rig is held by %s", h), http.StatusLocked)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet takes or releases the locker on behalf of an HTTP client.  Taking
// a locker held by someone else is refused with 423.
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	b := generichttp.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&b)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !b.Bool {
		l.Unlock()
		w.WriteHeader(http.StatusOK)
		return
	}
	if !l.TryLock("http client " + r.RemoteAddr) {
		http.Error(w, fmt.Sprintf("the rig is held by %s", l.Holder()), http.StatusLocked)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPGet replies with the LockT
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	h := l.Holder()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(LockT{Bool: h != "", Holder: h})
}
