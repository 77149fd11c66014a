/*
Package randx provides functions for generating cryptographically secure random
identifiers: fixed-length Base62 group codes and UUID message ids / dedup keys.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	// Base62Chars defines the character set used for Base62 encoding (0-9, A-Z, a-z).
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the total number of characters in the Base62 character set (62).
	Base62Len = int64(len(Base62Chars))

	// GroupCodeLength is the fixed length required for the generated group code.
	GroupCodeLength = 6
)

// GroupCode generates a Base62 encoded group code using crypto/rand.
// It returns a string of length GroupCodeLength and any error encountered.
func GroupCode() (string, error) {
	result := make([]byte, GroupCodeLength)

	for i := range GroupCodeLength {
		num, err := rand.Int(rand.Reader, big.NewInt(Base62Len))
		if err != nil {
			return "", fmt.Errorf("failed to generate random number for group code: %v", err)
		}

		result[i] = Base62Chars[num.Int64()]
	}

	return string(result), nil
}

// MessageID generates a UUID v4 string used as the persistence-assigned message id.
func MessageID() string {
	return uuid.New().String()
}

// DedupKey generates a UUID v4 string used as a client-side idempotency key.
// The same key is reused across retries of a single logical send.
func DedupKey() string {
	return uuid.New().String()
}

// IsValidGroupCode checks if the given string is a valid group code:
// length equals GroupCodeLength and all characters belong to the Base62 set.
func IsValidGroupCode(code string) bool {
	if len(code) != GroupCodeLength {
		return false
	}

	for _, char := range code {
		if !strings.ContainsRune(Base62Chars, char) {
			return false
		}
	}

	return true
}
