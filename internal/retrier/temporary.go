package retrier

import "errors"

// Temporary is implemented by errors that may succeed on retry.
type Temporary interface {
	Temporary() bool
}

// IsTemporary reports whether any error in err's chain says it is temporary.
func IsTemporary(err error) bool {
	var temp Temporary
	if errors.As(err, &temp) {
		return temp.Temporary()
	}
	return false
}
