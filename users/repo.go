package users

type UserRepo interface {
	Upsert(user *User) error
	Delete(email string) error
	GetByEmail(email string) (*User, error)
	GetByID(ID string) (*User, error)

	// FindOrCreateByEmail returns the user with the given email, creating it
	// when absent. Implementations must be safe under a unique constraint on
	// email: two concurrent creations for the same address resolve to one
	// row (insert-then-handle-conflict, not check-then-insert). The second
	// return value reports whether a new user was created.
	FindOrCreateByEmail(user *User) (*User, bool, error)
}
