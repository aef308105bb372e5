package domain

// Participant is one member of a voice room as last reported by the server.
// No transport or lifecycle logic here.
type Participant struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
	Muted    bool   `json:"isMuted"`
}

// NewParticipant projects a user into an unmuted roster entry.
func NewParticipant(user *User) Participant {
	return Participant{ID: user.ID, Username: user.Username}
}
