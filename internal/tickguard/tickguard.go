// Package tickguard isolates panics raised by user-supplied simulation code so
// that one misbehaving target cannot unwind a running seek.
package tickguard

import "fmt"

// Run invokes fn and converts any panic it raises into an error. A nil return
// means fn completed normally.
func Run(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = fmt.Errorf("%v", r)
		}
	}()
	fn()
	return nil
}
