package layer

import (
	"context"
	"errors"

	"github.com/MeKo-Tech/terrastream/sched"
)

// isCancellation reports whether err is an abort: swallowed silently
// everywhere in the pipeline.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, sched.ErrSkipped)
}
