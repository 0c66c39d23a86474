// Package clientdata stores the data each client announces in its sync
// handshake, keyed by server session and handle id.
package clientdata

import (
	"context"
	"fmt"

	"github.com/cyberinferno/go-sockets/message"
)

// Store keeps client data. Implementations must be safe for concurrent use:
// every supervision goroutine of a server writes to it.
type Store interface {
	// Put stores data under key, replacing any previous value.
	Put(ctx context.Context, key string, data message.ClientData) error

	// Get returns the data stored under key. found is false when nothing is
	// stored; err is reserved for backend failures.
	Get(ctx context.Context, key string) (data message.ClientData, found bool, err error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key starting with prefix and returns how
	// many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Count returns how many keys start with prefix. An empty prefix counts
	// every entry.
	Count(ctx context.Context, prefix string) (int, error)
}

// Key builds the store key for one handle of one server session.
func Key(sessionID string, handleID uint32) string {
	return fmt.Sprintf("%s:%d", sessionID, handleID)
}

// SessionPrefix is the prefix shared by every key of a server session.
func SessionPrefix(sessionID string) string {
	return sessionID + ":"
}
