package auth

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"speech-relay-backend/models"
	"speech-relay-backend/utils"
)

const (
	ReasonInvalidOrigin  = "Forbidden: Invalid HTTP_ORIGIN"
	ReasonInvalidReferer = "Forbidden: Invalid HTTP_REFERER"
)

// ErrorRecorder persists rejected requests.
type ErrorRecorder interface {
	Append(entry models.ErrorLogEntry) error
}

// EventPublisher receives relay events for monitor clients.
type EventPublisher interface {
	Publish(ev models.Event)
}

// Decision is the outcome of an allow-list check
type Decision struct {
	Allowed bool
	Reason  string
}

// Guard enforces the origin/referer allow-list.
// With an empty allow-list any request carrying an Origin or Referer is
// rejected. Public mode skips the checks entirely.
type Guard struct {
	mu      sync.RWMutex
	origins map[string]bool
	hosts   map[string]bool
	list    []string
	public  bool

	recorder ErrorRecorder
	events   EventPublisher
	now      func() time.Time
}

// NewGuard creates a guard for the given origins. recorder and events may be nil.
func NewGuard(origins []string, recorder ErrorRecorder, events EventPublisher) *Guard {
	g := &Guard{
		recorder: recorder,
		events:   events,
		now:      time.Now,
	}
	g.SetOrigins(origins)
	return g
}

// SetOrigins replaces the allow-list.
func (g *Guard) SetOrigins(origins []string) {
	list := make([]string, 0, len(origins))
	originSet := make(map[string]bool, len(origins))
	hostSet := make(map[string]bool, len(origins))

	for _, o := range origins {
		if o == "" {
			continue
		}
		list = append(list, o)
		originSet[o] = true
		if host := hostOf(o); host != "" {
			hostSet[host] = true
		}
	}

	g.mu.Lock()
	g.list = list
	g.origins = originSet
	g.hosts = hostSet
	g.mu.Unlock()
}

// SetPublic turns public mode on or off.
func (g *Guard) SetPublic(public bool) {
	g.mu.Lock()
	g.public = public
	g.mu.Unlock()

	if public {
		logrus.Warnln("public mode enabled, origin and referer checks are disabled")
	}
}

// Origins returns a copy of the current allow-list.
func (g *Guard) Origins() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, len(g.list))
	copy(out, g.list)
	return out
}

// Check decides whether a request carrying these headers may proceed.
// Empty header values are treated as absent.
func (g *Guard) Check(origin, referer string) Decision {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.public {
		return Decision{Allowed: true}
	}

	if origin != "" && !g.origins[origin] {
		return Decision{Reason: ReasonInvalidOrigin}
	}

	if referer != "" {
		host := hostOf(referer)
		if host == "" || !g.hosts[host] {
			return Decision{Reason: ReasonInvalidReferer}
		}
	}

	return Decision{Allowed: true}
}

// Middleware rejects requests that fail Check with a 403 JSON error and
// records each rejection.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		referer := r.Header.Get("Referer")

		d := g.Check(origin, referer)
		if d.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		g.reject(d.Reason, origin, referer)
		utils.WriteError(w, http.StatusForbidden, "Forbidden")
	})
}

func (g *Guard) reject(reason, origin, referer string) {
	now := g.now()
	entry := models.ErrorLogEntry{
		ID:        uuid.NewString(),
		Message:   reason,
		Origin:    origin,
		Referer:   referer,
		Timestamp: now.Format(models.ErrorLogTimeFormat),
	}

	logrus.WithFields(logrus.Fields{
		"origin":  origin,
		"referer": referer,
	}).Warnln(reason)

	if g.recorder != nil {
		if err := g.recorder.Append(entry); err != nil {
			logrus.WithError(err).Errorln("failed to append error log entry")
		}
	}

	if g.events != nil {
		g.events.Publish(models.Event{
			ID:        entry.ID,
			Type:      models.EventRequestRejected,
			State:     models.StateRejected,
			Status:    http.StatusForbidden,
			Message:   reason,
			Origin:    origin,
			Referer:   referer,
			Timestamp: now.Unix(),
		})
	}
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
