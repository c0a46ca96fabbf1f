package features

import (
	"context"
	"errors"
	"time"

	"github.com/MeKo-Tech/terrastream/cache"
	"github.com/MeKo-Tech/terrastream/sched"
)

func cacheOptions() cache.Options {
	return cache.Options{TTL: cacheTTL * time.Second}
}

// isCancellation reports whether err is an abort, swallowed silently.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, sched.ErrSkipped)
}
