package identity

import "time"

// User is a registered account. Callers without one are anonymous and only
// carry a uid cookie.
type User struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"displayName,omitempty"`
	CookieSecret string    `json:"cookieSecret"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Identity is the caller resolved for one request.
type Identity struct {
	UserID     string `json:"uid"`
	Registered bool   `json:"registered"`
	Minted     bool   `json:"-"`
}
