package api

import (
	"fmt"

	"github.com/ethpandaops/paddles/pkg/config"
	"golang.org/x/crypto/bcrypt"
)

// basicAuth verifies username/password pairs against bcrypt hashes of the
// configured passwords. Plaintext passwords are not retained.
type basicAuth struct {
	hashes map[string][]byte
}

func newBasicAuth(users []config.BasicAuthUser, cost int) (*basicAuth, error) {
	hashes := make(map[string][]byte, len(users))

	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), cost)
		if err != nil {
			return nil, fmt.Errorf("hashing password for %q: %w", u.Username, err)
		}

		hashes[u.Username] = hash
	}

	return &basicAuth{hashes: hashes}, nil
}

// check compares a plaintext password with the stored hash for username.
func (a *basicAuth) check(username, password string) bool {
	hash, ok := a.hashes[username]
	if !ok {
		return false
	}

	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}
