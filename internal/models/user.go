package models

// User is a chat platform member known to the bot.
// Users are created on first contact; only the display name and username are refreshed later.
type User struct {
	// ID is the platform's stable user id.
	ID int64

	// Username is the optional platform handle (without "@").
	Username string

	// DisplayName is the member's full name as reported by the platform.
	DisplayName string

	// RegisteredAt is the Unix timestamp of first contact.
	RegisteredAt int64
}

// Name returns the best label for the user.
func (u *User) Name() string {
	if u == nil {
		return "unknown"
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return "unknown"
}
