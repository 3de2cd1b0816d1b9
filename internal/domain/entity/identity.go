package entity

type Identity struct {
	UserID        string
	Email         string
	EmailVerified bool
}
