package models

// Allowance is either a guest counter against a limit or an account credit balance.
type Allowance struct {
	Kind    IdentityKind `json:"kind"`
	Used    int          `json:"used,omitempty"`  // guest messages sent
	Limit   int          `json:"limit,omitempty"` // guest message limit
	Credits int          `json:"credits"`         // authenticated balance
}

// GuestAllowance builds a guest allowance, clamping negative inputs to zero.
func GuestAllowance(used, limit int) Allowance {
	if used < 0 {
		used = 0
	}
	if limit < 0 {
		limit = 0
	}
	return Allowance{Kind: IdentityGuest, Used: used, Limit: limit}
}

// CreditAllowance builds an authenticated allowance, clamping negative balances to zero.
func CreditAllowance(credits int) Allowance {
	if credits < 0 {
		credits = 0
	}
	return Allowance{Kind: IdentityAuthenticated, Credits: credits}
}

// Consume returns the allowance after one accepted message.
func (a Allowance) Consume() Allowance {
	switch a.Kind {
	case IdentityGuest:
		a.Used++
	default:
		if a.Credits > 0 {
			a.Credits--
		}
	}
	return a
}

// Remaining is the number of messages still allowed.
func (a Allowance) Remaining() int {
	if a.Kind == IdentityGuest {
		if r := a.Limit - a.Used; r > 0 {
			return r
		}
		return 0
	}
	return a.Credits
}
