//go:generate go run go.uber.org/mock/mockgen -source=authorizer.go -destination=../mocks/mock_authorizer.go -package=mocks
package server

import (
	"context"

	"github.com/Tyrowin/nexus-realtime/internal/rooms"
)

// Authorizer decides whether a user may subscribe to a room. Membership and
// permissions live in the REST layer; the gateway only asks.
type Authorizer interface {
	CanJoin(ctx context.Context, userID string, room rooms.ID) (bool, error)
}

// AllowAll admits every subscription. It is the default when no authorizer is
// configured.
type AllowAll struct{}

func (AllowAll) CanJoin(context.Context, string, rooms.ID) (bool, error) {
	return true, nil
}
