package domain

import "regexp"

var (
	keyPattern         = regexp.MustCompile(`^[a-zA-Z0-9._:/-]+$`)
	elementTypePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
)

func ValidateKey(key string) error {
	if key == "" || !keyPattern.MatchString(key) {
		return ErrInvalidKey
	}
	return nil
}

// ValidateElementType accepts identifier-like names such as "Article".
func ValidateElementType(elementType string) error {
	if elementType == "" || !elementTypePattern.MatchString(elementType) {
		return ErrInvalidElementType
	}
	return nil
}
