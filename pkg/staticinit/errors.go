package staticinit

import "errors"

// Diagnostic causes. Every one of them fails open: the type keeps all of its
// mutation points, or only its initializer roots are filtered.
var (
	// ErrLoadFailure means the code source has no image for the type.
	ErrLoadFailure = errors.New("type image unavailable")

	// ErrDecodeFailure means the image could not be decoded.
	ErrDecodeFailure = errors.New("type image could not be decoded")

	// ErrBudgetExceeded means the reachability passes did not converge within
	// the configured limit; only the roots are filtered.
	ErrBudgetExceeded = errors.New("reachability pass budget exceeded")

	// ErrContractViolation means the filtered set contained a method that is
	// neither a root nor eligible for filtering.
	ErrContractViolation = errors.New("filtered set escapes eligible methods")
)
