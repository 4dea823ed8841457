package sandbox

import "strings"

// sentinel maps a substring of the runtime's diagnostic stream to a failure
// kind. Order matters: the first match wins.
type sentinel struct {
	marker  string
	kind    FailureKind
	message string
}

var sentinels = []sentinel{
	{"InputMismatchException", KindTypeMismatch, "The input is of an incorrect type."},
	{"NoSuchElementException", KindEmptyInput, "Scanner tried to read but no input was provided."},
	{"NullPointerException", KindNullDereference, "A null object was accessed in the executed code."},
}

// Classify maps the stderr of a failed run to a failure kind and a detail
// message. Unrecognized output is preserved in the detail.
func Classify(stderr string) (FailureKind, string) {
	for _, s := range sentinels {
		if strings.Contains(stderr, s.marker) {
			return s.kind, s.message
		}
	}
	return KindUnclassified, "Error in execution: " + stderr
}
