package entcache

import (
	"fmt"
)

// InvalidateError reports backend failures during EntityCache.Invalidate.
// A subject without an association record is never an error.
type InvalidateError struct {
	Subject string
	// Keys that could not be deleted, with their errors.
	KeyErrs map[string]error
	BumpErr error
	DelErr  error
}

func (e *InvalidateError) Error() string {
	switch {
	case len(e.KeyErrs) > 0 && e.DelErr != nil:
		return fmt.Sprintf("invalidate %q failed: %d associated keys and record delete failed: delete=%v",
			e.Subject, len(e.KeyErrs), e.DelErr)
	case len(e.KeyErrs) > 0:
		return fmt.Sprintf("invalidate %q: %d associated keys could not be deleted", e.Subject, len(e.KeyErrs))
	case e.DelErr != nil:
		return fmt.Sprintf("invalidate %q: record delete failed: %v", e.Subject, e.DelErr)
	case e.BumpErr != nil:
		return fmt.Sprintf("invalidate %q: gen bump failed: %v", e.Subject, e.BumpErr)
	default:
		return fmt.Sprintf("invalidate %q: unknown error", e.Subject)
	}
}

func (e *InvalidateError) Unwrap() []error {
	errs := make([]error, 0, len(e.KeyErrs)+2)
	for _, err := range e.KeyErrs {
		errs = append(errs, err)
	}
	if e.BumpErr != nil {
		errs = append(errs, e.BumpErr)
	}
	if e.DelErr != nil {
		errs = append(errs, e.DelErr)
	}
	return errs
}

func (e *InvalidateError) empty() bool {
	return len(e.KeyErrs) == 0 && e.BumpErr == nil && e.DelErr == nil
}
