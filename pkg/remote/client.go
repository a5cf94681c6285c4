// Package remote defines the RemoteClient capability: CRUD and listing of
// named resources on the remote system. The engine consumes this interface
// and never inspects transport internals.
package remote

import (
	"context"
	"errors"
	"fmt"
)

// Resource is one remotely-stored resource as reported by List. Managed is
// true when the stored document carries this tool's managed marker;
// hand-created resources are never candidates for deletion.
type Resource struct {
	Name    string
	Managed bool
}

// Client performs create/update/delete/list against one remote target for
// one resource kind. Implementations must be safe for concurrent
// independent calls.
type Client interface {
	// TargetID identifies the remote target for cache keying.
	TargetID() string

	List(ctx context.Context) ([]Resource, error)
	Create(ctx context.Context, name string, document []byte) error
	Update(ctx context.Context, name string, document []byte) error
	Delete(ctx context.Context, name string) error
}

// CallError is a failed remote call. Per-item failures are recoverable
// (recorded, run continues); connectivity-class failures abort remaining
// dispatch.
type CallError struct {
	Op           string
	Name         string
	StatusCode   int
	Connectivity bool
	Err          error
}

func (e *CallError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("remote %s %q failed: %v", e.Op, e.Name, e.Err)
	}
	return fmt.Sprintf("remote %s failed: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// IsConnectivity reports whether err is a connectivity-class remote
// failure (the remote system is unreachable, as opposed to rejecting one
// resource).
func IsConnectivity(err error) bool {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Connectivity
	}
	return false
}
