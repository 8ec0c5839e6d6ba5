package mirror

import "log/slog"

const defaultResolverCacheSize = 256

type Option func(*Engine)

// WithLogger sets the logger used by the engine. A nil logger discards.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithIgnore leaves source paths matched by m out of every sync.
func WithIgnore(m Matcher) Option {
	return func(e *Engine) {
		e.ignore = m
	}
}

// WithResolverCacheSize bounds the number of resolved target directories kept
// in memory. Zero disables the cache.
func WithResolverCacheSize(size int) Option {
	return func(e *Engine) {
		e.cacheSize = size
	}
}
