package testcommon

import (
	"github.com/google/go-cmp/cmp"
)

// ErrorStringComparer compares errors by their message.
func ErrorStringComparer() cmp.Option {
	return cmp.Comparer(func(x, y error) bool {
		if x == nil && y == nil {
			return true
		}
		if x == nil || y == nil {
			return false
		}
		return x.Error() == y.Error()
	})
}
