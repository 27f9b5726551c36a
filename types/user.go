package types

// User is a registered participant. PasswordHash is kept for persistence only, use Public before handing a
// user to anything outside of the authentication boundary.
type User struct {
	Id           string `json:"id" gorm:"primaryKey"`
	Username     string `json:"username" gorm:"uniqueIndex"`
	Email        string `json:"email" gorm:"uniqueIndex"`
	PasswordHash string `json:"passwordHash,omitempty"`
	Hobby        string `json:"hobby"`
	CustomHobby  string `json:"customHobby,omitempty"`
	Country      string `json:"country"`
	IsVerified   bool   `json:"isVerified"`
}

// Public returns a copy of the user without the password hash.
func (u User) Public() User {
	u.PasswordHash = ""
	return u
}
