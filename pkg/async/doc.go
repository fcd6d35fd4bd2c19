// Package async provides safe goroutine helpers for fire-and-forget work.
//
// SafeGo wraps a goroutine with panic recovery, a timeout, and error logging.
// SafeGoDetached additionally detaches from the parent context's cancellation
// so the work survives the originating request.
package async
