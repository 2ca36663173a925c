// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package waitmux

// PoolVariant selects the group placement strategy used by a Pool.
type PoolVariant int

const (
	// VariantPool is the default "largest non-full group" packing policy:
	// registrations are packed as densely as possible into shared groups.
	VariantPool PoolVariant = iota

	// VariantPair places every registration in its own dedicated group
	// (equivalent to MaxGroupSize=1), trading goroutine/thread count for
	// isolation between unrelated waits. Useful when a caller needs a wait
	// that is never woken to service someone else's cancellation.
	VariantPair
)

// poolOptions holds configuration resolved from PoolOption values.
type poolOptions struct {
	api           API
	logger        Logger
	variant       PoolVariant
	maxGroupSize  int
	onWorkerError func(error)
}

// PoolOption configures a Pool instance.
type PoolOption interface {
	applyPool(*poolOptions) error
}

// poolOptionImpl implements PoolOption.
type poolOptionImpl struct {
	applyPoolFunc func(*poolOptions) error
}

func (o *poolOptionImpl) applyPool(opts *poolOptions) error {
	return o.applyPoolFunc(opts)
}

// WithAPI overrides the [API] implementation used by a Pool. Defaults to the
// real Windows implementation on GOOS=windows and is otherwise required
// (typically a [SimulatedAPI]).
func WithAPI(api API) PoolOption {
	return &poolOptionImpl{func(opts *poolOptions) error {
		opts.api = api
		return nil
	}}
}

// WithLogger sets the structured [Logger] used by a Pool. Defaults to a
// no-op logger.
func WithLogger(logger Logger) PoolOption {
	return &poolOptionImpl{func(opts *poolOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithVariant selects the group placement strategy. Defaults to
// [VariantPool].
func WithVariant(variant PoolVariant) PoolOption {
	return &poolOptionImpl{func(opts *poolOptions) error {
		opts.variant = variant
		return nil
	}}
}

// WithMaxGroupSize overrides the maximum number of caller handles per group
// (default 63, the real Win32 ceiling of MAXIMUM_WAIT_OBJECTS minus the
// reserved cancel-event slot). Intended for exercising boundary behavior in
// tests without registering 64 real handles.
func WithMaxGroupSize(n int) PoolOption {
	return &poolOptionImpl{func(opts *poolOptions) error {
		opts.maxGroupSize = n
		return nil
	}}
}

// WithOnWorkerError registers a callback invoked whenever a pool worker
// observes an [OsError] that isn't otherwise delivered to a caller: a fatal
// wait or probe failure that ends the worker, or a failure closing a cancel
// event. These calls run on the worker goroutine. [Pool.Close] also reports
// a failure to signal a group's cancel event through it, on Close's own
// goroutine. Abandoned-mutex outcomes are not reported here; they are logged
// as warnings and delivered to [Pool.Wait] as an [AbandonedMutexError]. The
// callback must not block.
func WithOnWorkerError(fn func(error)) PoolOption {
	return &poolOptionImpl{func(opts *poolOptions) error {
		opts.onWorkerError = fn
		return nil
	}}
}

// resolvePoolOptions applies PoolOption instances to poolOptions.
func resolvePoolOptions(opts []PoolOption) (*poolOptions, error) {
	cfg := &poolOptions{
		variant:      VariantPool,
		maxGroupSize: MaxGroupSize,
		logger:       NewNoOpLogger(),
		onWorkerError: func(error) {},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyPool(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
