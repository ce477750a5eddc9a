package domain

// Credentials is the explicit session context: who is logged in and the
// bearer token to present to the server. It is passed down to every
// component instead of living in a process-wide singleton.
type Credentials struct {
	UserID string
	Token  string
}

// AuthorizationHeader returns the bearer header value, or "" without a token.
func (c Credentials) AuthorizationHeader() string {
	if c.Token == "" {
		return ""
	}
	return "Bearer " + c.Token
}
