package afio

import (
	"log/slog"
)

// Option configures [NewDispatcher].
type Option func(*dispatcherOptions)

type dispatcherOptions struct {
	logger          *slog.Logger
	useIOUring      bool
	uringEntries    uint32
	iocpConcurrency uint32
}

func defaultDispatcherOptions() dispatcherOptions {
	return dispatcherOptions{
		logger:          slog.Default(),
		uringEntries:    256,
		iocpConcurrency: 0, // 0 lets the OS pick, matching CreateIoCompletionPort's own default
	}
}

// WithLogger sets the [slog.Logger] the dispatcher uses for warnings
// (autoflush-on-close sync failures, io_uring fallback) and for the fatal
// operation-table invariant violations it panics on. Defaults to
// slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *dispatcherOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLinuxIOUring opts read/write operations into an io_uring submission
// ring instead of synchronous preadv(2)/pwritev(2), giving them a genuine
// kernel-mediated completion path rather than blocking an executor
// goroutine for the duration of the transfer. Ignored on non-Linux
// platforms; falls back to the synchronous path if ring setup fails
// (logged at Warn).
func WithLinuxIOUring() Option {
	return func(o *dispatcherOptions) {
		o.useIOUring = true
	}
}

// WithIOUringEntries sets the submission/completion queue depth for the
// io_uring backend. Ignored unless combined with WithLinuxIOUring. n <= 0
// keeps the default of 256.
func WithIOUringEntries(n int) Option {
	return func(o *dispatcherOptions) {
		if n > 0 {
			o.uringEntries = uint32(n)
		}
	}
}

// WithIOCPConcurrency sets the concurrent-thread hint passed to
// CreateIoCompletionPort on Windows. Ignored on other platforms. n <= 0
// lets the OS choose (one thread per CPU).
func WithIOCPConcurrency(n int) Option {
	return func(o *dispatcherOptions) {
		if n > 0 {
			o.iocpConcurrency = uint32(n)
		}
	}
}
