// Package patron holds the library card number rules shared by circulation and fees.
package patron

import "errors"

// IDLength is the number of digits on a library card.
const IDLength = 6

var ErrInvalidID = errors.New("invalid patron ID: must be exactly 6 digits")

// ValidID reports whether id is exactly six ASCII digits. Leading zeros are significant.
func ValidID(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	return true
}
