// errors_helper.go: sentinel errors and gorm error classification helpers
package datastore

import (
	"errors"

	"gorm.io/gorm"
)

var (
	// ErrAlreadyExists is returned when a create hits an existing row
	ErrAlreadyExists = errors.New("record already exists")
	// ErrInvalidTransition is returned when a status change violates the state machine
	ErrInvalidTransition = errors.New("invalid status transition")
)

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// isDuplicateKey relies on gorm's error translation (TranslateError) being
// enabled on the connection, which both backends do in Open.
func isDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
