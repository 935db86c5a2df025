package latch

// KeyValuePair is a tuple, 'used where the caller needs to carry a key (or
// field name) together with its value, e.g. metadata entries.
type KeyValuePair[TK any, TV any] struct {
	Key   TK
	Value TV
}
