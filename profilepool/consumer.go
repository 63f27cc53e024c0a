package profilepool

import "runtime"

// RegisterConsumer releases one reference on key once consumer becomes
// unreachable. Collection timing is not guaranteed, so explicit
// ReleaseProfile stays the primary path; call Stop on the returned cleanup
// after releasing explicitly to avoid a double release.
func RegisterConsumer[T any](p *Pool, consumer *T, key string) runtime.Cleanup {
	return runtime.AddCleanup(consumer, p.ReleaseProfile, key)
}
