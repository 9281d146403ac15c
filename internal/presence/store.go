//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_presence_store.go -package=mocks
package presence

import (
	"context"
	"time"
)

// Store mirrors presence flips for other services. The tracker stays the
// source of truth; store failures are logged and never block coordination.
type Store interface {
	SetOnline(ctx context.Context, userID string, since time.Time) error
	SetOffline(ctx context.Context, userID string) error
}
