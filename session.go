package crashpipe

import (
	"fmt"
	"time"

	uuid "github.com/gofrs/uuid"
)

// Session identifies every report sent by a single Reporter. It is created
// once per Reporter and only survives a restart if passed back in through
// Configuration.SessionID.
type Session struct {
	ID     string `json:"session_id"`
	UserID string `json:"user_id,omitempty"`
}

// NewSession starts a session with a random ID for the given, possibly
// empty, user.
func NewSession(userID string) Session {
	return Session{ID: newSessionID(), UserID: userID}
}

func newSessionID() string {
	id, err := uuid.NewV4()
	if err != nil {
		// Only happens when the system's entropy source fails.
		return fmt.Sprintf("session_%d", time.Now().UnixNano())
	}
	return id.String()
}
