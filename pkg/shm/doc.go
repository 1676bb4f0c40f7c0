// Package shm provides lock-free structures laid out in shared memory and
// synchronized only through the atomics package, so that separate processes
// mapping the same region can use them together.
//
// Buffer is a byte ring whose head and tail are atomic cells in the region
// header. BufferManager hands out fixed-size slices of a region. Its size
// classes, free counts and per-slice state words live in a header at the
// start of the region, so a manager created with NewBufferManager and peers
// joined with AttachBufferManager share one pool.
//
// This package is instrumented with OpenTelemetry metrics and tracing (OTel
// Go API v1.30.0). A nil Meter or Tracer falls back to the no-op provider.
//
// Example usage:
//
//	buf, err := shm.Open(ctx, shm.OpenOptions{
//	  Name:   "myshm",
//	  Size:   65536,
//	  Create: true,
//	})
//	// ...
//	n, err := buf.Write(ctx, payload)
//
// Platform-specific helpers are in internal/shm.
package shm
