package provisioner

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/dreyhq/drey/pkg/types"
)

const (
	passwordChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*"
	passwordLen   = 32
	suffixChars   = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffixLen     = 8
)

func randomString(charset string, length int) (string, error) {
	out := make([]byte, length)
	max := big.NewInt(int64(len(charset)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		out[i] = charset[n.Int64()]
	}
	return string(out), nil
}

func generatePassword() (string, error) {
	return randomString(passwordChars, passwordLen)
}

func generateName(prefix string) (string, error) {
	suffix, err := randomString(suffixChars, suffixLen)
	if err != nil {
		return "", err
	}
	return prefix + "_" + suffix, nil
}

// generateCredentials produces the credential set for a resource type.
// All values are plaintext; the caller encrypts before persisting.
func generateCredentials(typeName string) (map[string]string, error) {
	password, err := generatePassword()
	if err != nil {
		return nil, err
	}

	switch typeName {
	case types.TypePostgreSQL:
		username, err := generateName("postgres")
		if err != nil {
			return nil, err
		}
		database, err := generateName("db")
		if err != nil {
			return nil, err
		}
		return map[string]string{
			"username": username,
			"password": password,
			"database": database,
		}, nil

	case types.TypeMariaDB:
		username, err := generateName("maria")
		if err != nil {
			return nil, err
		}
		database, err := generateName("db")
		if err != nil {
			return nil, err
		}
		rootPassword, err := generatePassword()
		if err != nil {
			return nil, err
		}
		return map[string]string{
			"username":      username,
			"password":      password,
			"root_password": rootPassword,
			"database":      database,
		}, nil

	case types.TypeRedis, types.TypeValkey:
		return map[string]string{
			"password": password,
		}, nil
	}

	return nil, fmt.Errorf("no credential scheme for resource type %q", typeName)
}

// defaultPort returns the well-known port for a provisionable type
func defaultPort(typeName string) int {
	switch typeName {
	case types.TypePostgreSQL:
		return 5432
	case types.TypeMariaDB:
		return 3306
	case types.TypeRedis, types.TypeValkey:
		return 6379
	}
	return 0
}
