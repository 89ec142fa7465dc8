package core

import "context"

// DisplayState is what the client should show next to the message input.
type DisplayState string

const (
	DisplayPremium   DisplayState = "premium"
	DisplayNormal    DisplayState = "normal"
	DisplayWarning   DisplayState = "warning"
	DisplayExhausted DisplayState = "exhausted"
)

func DeriveDisplayState(isPremium bool, messagesLeft, maxMessages int) DisplayState {
	if isPremium || messagesLeft == Unlimited || maxMessages == Unlimited {
		return DisplayPremium
	}
	switch {
	case messagesLeft <= 0:
		return DisplayExhausted
	case messagesLeft == 1:
		return DisplayWarning
	default:
		return DisplayNormal
	}
}

type GateStatus struct {
	Premium      bool         `json:"premium"`
	MessagesLeft int          `json:"messages_left"`
	MaxMessages  int          `json:"max_messages"`
	Display      DisplayState `json:"display"`
	CanSend      bool         `json:"can_send"`
}

// EntitlementGate is the one place that decides whether an outbound message
// is allowed.
type EntitlementGate struct {
	quota       *QuotaTracker
	entitlement EntitlementChecker
}

func NewEntitlementGate(quota *QuotaTracker, entitlement EntitlementChecker) *EntitlementGate {
	return &EntitlementGate{quota: quota, entitlement: entitlement}
}

func (g *EntitlementGate) isPremium() bool {
	return g.entitlement != nil && g.entitlement.IsPremium()
}

func (g *EntitlementGate) CanSendMessage(ctx context.Context) bool {
	if g.isPremium() {
		return true
	}
	return g.quota.CanSend(ctx)
}

// OnMessageSent charges one message to a free user.
func (g *EntitlementGate) OnMessageSent(ctx context.Context) QuotaState {
	if g.isPremium() {
		return g.quota.unlimited()
	}
	return g.quota.Increment(ctx)
}

// Reserve combines CanSendMessage and OnMessageSent into one atomic step.
// A false result means the message must not be sent.
func (g *EntitlementGate) Reserve(ctx context.Context) (QuotaState, bool) {
	if g.isPremium() {
		return g.quota.unlimited(), true
	}
	return g.quota.TryIncrement(ctx)
}

// Release undoes a Reserve whose message was never sent.
func (g *EntitlementGate) Release(ctx context.Context) {
	if g.isPremium() {
		return
	}
	g.quota.Refund(ctx)
}

func (g *EntitlementGate) Status(ctx context.Context) GateStatus {
	premium := g.isPremium()
	state := g.quota.GetState(ctx)
	return statusFor(premium, state)
}

func statusFor(premium bool, state QuotaState) GateStatus {
	display := DeriveDisplayState(premium, state.MessagesLeft, state.MaxMessages)
	return GateStatus{
		Premium:      premium,
		MessagesLeft: state.MessagesLeft,
		MaxMessages:  state.MaxMessages,
		Display:      display,
		CanSend:      display != DisplayExhausted,
	}
}
