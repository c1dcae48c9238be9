package chat

import "time"

// Session captures one user's isolated chat scope. The credential is held by
// the session store and never serialized. CSRFToken must accompany
// cookie-authenticated requests that change state.
type Session struct {
	ID            string    `json:"id"`
	CSRFToken     string    `json:"csrfToken"`
	HasCredential bool      `json:"hasCredential"`
	State         State     `json:"state"`
	Messages      int       `json:"messages"`
	CreatedAt     time.Time `json:"createdAt"`
	LastSeenAt    time.Time `json:"lastSeenAt"`
}
