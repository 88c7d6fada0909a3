package analysis

import (
	"errors"
	"fmt"
)

var (
	ErrUnresolvedTarget = errors.New("unresolved target")
	ErrEmptyMethodBody  = errors.New("empty method body")
	ErrInvalidRegion    = errors.New("invalid exception region")
	ErrAnalysisPanic    = errors.New("analysis panicked")
)

// UnresolvedTarget records a branch or handler target that does not fall
// inside any block of the method. The edge or handler attachment is dropped.
type UnresolvedTarget struct {
	Site    int  // branch site, or region start for handlers
	Target  int  // offending target offset
	Handler bool // true when the target came from an exception handler
}

func (u *UnresolvedTarget) Error() string {
	if u.Handler {
		return fmt.Sprintf("%v: handler 0x%x of region at 0x%x", ErrUnresolvedTarget, u.Target, u.Site)
	}
	return fmt.Sprintf("%v: 0x%x from branch at 0x%x", ErrUnresolvedTarget, u.Target, u.Site)
}

func (u *UnresolvedTarget) Unwrap() error {
	return ErrUnresolvedTarget
}
