package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// HashString produces the value stored in auth.operatorKeyHash.
func HashString(originalString string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(originalString), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func VerifyHashedString(originalString, hashedString string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedString), []byte(originalString)) == nil
}
