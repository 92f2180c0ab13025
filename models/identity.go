package models

// IdentityKind distinguishes guests from signed-in accounts.
type IdentityKind string

const (
	IdentityGuest         IdentityKind = "guest"
	IdentityAuthenticated IdentityKind = "authenticated"
)

// Identity is the caller of a request. For guests ID is the device ID,
// for authenticated callers it is the account ID.
type Identity struct {
	Kind IdentityKind `json:"kind"`
	ID   string       `json:"id"`
}

// Guest returns a guest identity for the given device.
func Guest(deviceID string) Identity {
	return Identity{Kind: IdentityGuest, ID: deviceID}
}

// Authenticated returns an identity bound to an account record.
func Authenticated(accountID string) Identity {
	return Identity{Kind: IdentityAuthenticated, ID: accountID}
}

func (i Identity) IsGuest() bool { return i.Kind == IdentityGuest }

func (i Identity) IsAuthenticated() bool { return i.Kind == IdentityAuthenticated }
