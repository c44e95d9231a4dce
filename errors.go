package tilepyramid

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/tilepyramid/tileid"
)

// ErrClosed is returned by operations on a closed Pyramid.
var ErrClosed = errors.New("tilepyramid: closed")

// InvariantError reports a broken usage-count invariant. It is raised with panic:
// continuing would leak or double-free payloads.
type InvariantError struct {
	Op   string
	Key  uint64
	Uses int
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("tilepyramid: %s: tile %s has usage count %d",
		e.Op, tileid.FromKey(e.Key), e.Uses)
}

// LoadError wraps a loader failure for one tile.
type LoadError struct {
	ID  tileid.ID
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load tile %s: %v", e.ID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// CloseError collects failures from releasing payloads and closing the loader.
type CloseError struct {
	ReleaseErrs []error
	LoaderErr   error
}

func (e *CloseError) Error() string {
	switch {
	case len(e.ReleaseErrs) > 0 && e.LoaderErr != nil:
		return fmt.Sprintf("close: %d payload release errors (first: %v); loader: %v",
			len(e.ReleaseErrs), e.ReleaseErrs[0], e.LoaderErr)
	case len(e.ReleaseErrs) > 0:
		return fmt.Sprintf("close: %d payload release errors (first: %v)", len(e.ReleaseErrs), e.ReleaseErrs[0])
	case e.LoaderErr != nil:
		return fmt.Sprintf("close: loader: %v", e.LoaderErr)
	default:
		return "close: unknown error"
	}
}

func (e *CloseError) Unwrap() []error {
	errs := make([]error, 0, len(e.ReleaseErrs)+1)
	errs = append(errs, e.ReleaseErrs...)
	if e.LoaderErr != nil {
		errs = append(errs, e.LoaderErr)
	}
	return errs
}
