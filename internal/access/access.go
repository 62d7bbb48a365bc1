// Package access decides whether a user may upload documents or ask questions.
package access

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ecobiomax/normaIA/internal/store"
)

// Decision is the outcome of an access check. Reason is set when denied.
type Decision struct {
	Granted bool
	Reason  string
}

func Granted() Decision { return Decision{Granted: true} }

func Denied(reason string) Decision { return Decision{Reason: reason} }

// Gate checks whether a user may use the service.
type Gate interface {
	CheckAccess(ctx context.Context, userID string) Decision
}

const (
	ReasonNoUser         = "missing user identity"
	ReasonNoSubscription = "no subscription found"
	ReasonInactive       = "subscription inactive"
	ReasonTrialExpired   = "trial expired"
	ReasonLookupFailed   = "subscription lookup failed"
	ReasonNotInAllowList = "user not allowed"
)

// StaticGate grants access to a fixed set of users; "*" grants everyone.
type StaticGate struct {
	all     bool
	allowed map[string]struct{}
}

func NewStaticGate(users []string) *StaticGate {
	g := &StaticGate{allowed: make(map[string]struct{}, len(users))}
	for _, u := range users {
		if u == "*" {
			g.all = true
			continue
		}
		if u != "" {
			g.allowed[u] = struct{}{}
		}
	}
	return g
}

func (g *StaticGate) CheckAccess(_ context.Context, userID string) Decision {
	if userID == "" {
		return Denied(ReasonNoUser)
	}
	if g.all {
		return Granted()
	}
	if _, ok := g.allowed[userID]; ok {
		return Granted()
	}
	return Denied(ReasonNotInAllowList)
}

// SubscriptionReader is the part of the store the subscription gate reads.
type SubscriptionReader interface {
	GetSubscription(ctx context.Context, userID string) (store.Subscription, error)
}

// SubscriptionGate grants active subscribers and users inside their trial.
// It never writes subscription state.
type SubscriptionGate struct {
	subs SubscriptionReader
	log  *slog.Logger
	now  func() time.Time
}

func NewSubscriptionGate(subs SubscriptionReader, log *slog.Logger) *SubscriptionGate {
	return &SubscriptionGate{subs: subs, log: log, now: time.Now}
}

func (g *SubscriptionGate) CheckAccess(ctx context.Context, userID string) Decision {
	if userID == "" {
		return Denied(ReasonNoUser)
	}
	sub, err := g.subs.GetSubscription(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return Denied(ReasonNoSubscription)
	}
	if err != nil {
		g.log.Error("subscription lookup failed", "user_id", userID, "err", err)
		return Denied(ReasonLookupFailed)
	}

	switch sub.Status {
	case "active":
		return Granted()
	case "trial":
		if sub.TrialEnd != nil && g.now().Before(*sub.TrialEnd) {
			return Granted()
		}
		return Denied(ReasonTrialExpired)
	default:
		return Denied(ReasonInactive)
	}
}
