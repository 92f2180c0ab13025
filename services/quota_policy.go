package services

import "github.com/Ishu-sri-001/neuro-nest/models"

// QuotaPolicy decides whether a message may be sent.
type QuotaPolicy struct {
	GuestLimit int
}

// Decide is a pure predicate over the caller's identity and current allowance.
// Guests are blocked once their counter reaches the limit; accounts once
// their credits reach zero.
func (p QuotaPolicy) Decide(identity models.Identity, allowance models.Allowance) models.Decision {
	switch identity.Kind {
	case models.IdentityGuest:
		if allowance.Used >= p.GuestLimit {
			return models.DecisionBlock
		}
		return models.DecisionAllow
	case models.IdentityAuthenticated:
		if allowance.Credits <= 0 {
			return models.DecisionBlock
		}
		return models.DecisionAllow
	default:
		return models.DecisionBlock
	}
}
