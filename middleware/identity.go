package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Ishu-sri-001/neuro-nest/models"
	"github.com/Ishu-sri-001/neuro-nest/utils"
)

// GuestIDHeader carries the device ID of an unauthenticated caller.
const GuestIDHeader = "X-Guest-ID"

const (
	identityKey    = "identity"
	deviceKey      = "guest_device"
	mintedGuestKey = "guest_minted"
)

// TokenParser resolves a bearer token to an account ID.
type TokenParser interface {
	Parse(token string) (string, error)
}

// Identity resolves the caller: a valid bearer token makes it Authenticated,
// otherwise it is a Guest keyed by the X-Guest-ID header. Guests without an
// ID are assigned one, echoed back in the response header.
func Identity(tokens TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		// The device ID is kept for signed-in callers too, so a guest session
		// can follow its device into the account.
		guestID := strings.TrimSpace(c.GetHeader(GuestIDHeader))
		if _, err := uuid.Parse(guestID); err != nil {
			guestID = ""
		}

		if header := c.GetHeader("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				utils.SendJSONError(c, http.StatusUnauthorized, "Invalid Authorization header format.", nil)
				return
			}
			accountID, err := tokens.Parse(strings.TrimSpace(parts[1]))
			if err != nil {
				utils.SendJSONError(c, http.StatusUnauthorized, "Your session has expired. Please log in again.", err)
				return
			}
			c.Set(identityKey, models.Authenticated(accountID))
			if guestID != "" {
				c.Set(deviceKey, guestID)
			}
			c.Next()
			return
		}

		// No usable device ID: mint one for the client to keep
		if guestID == "" {
			guestID = uuid.NewString()
			c.Set(mintedGuestKey, true)
		}
		c.Header(GuestIDHeader, guestID)
		c.Set(identityKey, models.Guest(guestID))
		c.Set(deviceKey, guestID)
		c.Next()
	}
}

// GetIdentity returns the identity resolved by the Identity middleware.
func GetIdentity(c *gin.Context) models.Identity {
	if v, ok := c.Get(identityKey); ok {
		if identity, ok := v.(models.Identity); ok {
			return identity
		}
	}
	return models.Identity{}
}

// GetDeviceID returns the guest device the request came from, or "".
func GetDeviceID(c *gin.Context) string {
	return c.GetString(deviceKey)
}

// IsMintedGuest reports whether the guest ID was assigned on this request.
func IsMintedGuest(c *gin.Context) bool {
	return c.GetBool(mintedGuestKey)
}

// RequireAccount aborts requests that are not authenticated.
func RequireAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !GetIdentity(c).IsAuthenticated() {
			utils.SendJSONError(c, http.StatusUnauthorized, "Please log in to continue.", nil)
			return
		}
		c.Next()
	}
}
