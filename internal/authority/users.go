package authority

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// User is an account known to the authority.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Role         string
}

// HashPassword hashes a plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password with the stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// Account declares a user to seed at construction, with a plaintext password
// hashed on the way in. Meant for the simulator and tests.
type Account struct {
	ID       string
	Username string
	Password string
	Role     string
}

// DemoAccounts are the default simulator users.
func DemoAccounts() []Account {
	return []Account{
		{ID: "u-coord", Username: "coordinator", Password: "coordinator", Role: "coordinator"},
		{ID: "u-agent", Username: "agent", Password: "agent", Role: "agent"},
		{ID: "u-admin", Username: "admin", Password: "admin", Role: "admin"},
	}
}
