// Package election guarantees that, per name, exactly one registered
// callback runs at a time across a set of cooperating processes.
package election

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
)

var (
	// ErrClosed is returned when registering on a closed elector.
	ErrClosed = errors.New("elector closed")

	// ErrEmptyName is returned when registering without a name.
	ErrEmptyName = errors.New("election name is required")
)

// Callback runs while its registrant holds leadership. ctx is cancelled as
// soon as leadership is lost or the registration is stopped; the callback
// must return promptly after that.
type Callback func(ctx context.Context)

// Handle is a single registration.
type Handle interface {
	// Stop withdraws the registration, cancels the callback if it is running
	// and waits for it to return. Leadership is released so another
	// registrant can take over.
	Stop()

	// Leading reports whether the callback is currently running.
	Leading() bool
}

// Elector is the coordination capability the reporter depends on.
type Elector interface {
	// Register enters the election for name. fn is invoked iff elected.
	Register(name string, fn Callback) (Handle, error)

	// Close stops every registration made through this elector.
	Close() error
}

// DefaultOwnerID returns an identifier unique to this process.
func DefaultOwnerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}
