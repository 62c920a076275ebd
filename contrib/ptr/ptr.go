package ptr

// To returns a pointer to the provided value.
func To[T any](v T) *T {
	return &v
}

// Deref returns the value the pointer refers to, or def when it is nil.
func Deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}
