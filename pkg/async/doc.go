// Package async runs background work without letting a panic or a slow
// call take the process down.
//
// SafeGo starts one task in a goroutine with a timeout and panic recovery.
// Batch fans a slice out to a bounded number of workers and returns one
// error slot per item:
//
//	errs := async.Batch(ctx, paths, 4, func(ctx context.Context, p string) error {
//		return blobs.Delete(ctx, p)
//	})
package async
