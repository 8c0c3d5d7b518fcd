//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"snapgram/internal/config"

	"github.com/google/wire"
)

// InitializeContainer is the Wire injector; the generated version returns a
// cleanup that releases resources in reverse order.
func InitializeContainer(ctx context.Context, loader *config.Loader) (*Container, func(), error) {
	wire.Build(SuperSet)
	return nil, nil, nil
}
