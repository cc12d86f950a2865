// Package client talks to the remote report collector.
package client

import (
	"context"

	"github.com/ethereum-optimism/infra/op-reporter/types"
)

// Collector is the remote side of a reporting session. Every call may fail
// independently and callers treat the errors as opaque.
type Collector interface {
	StartLaunch(ctx context.Context, req types.StartLaunchRequest) (string, error)
	FinishLaunch(ctx context.Context, launchID string, req types.FinishLaunchRequest) (string, error)

	// StartItem opens an item. An empty parentID makes it a root item of the launch.
	StartItem(ctx context.Context, parentID string, req types.StartItemRequest) (string, error)
	UpdateItem(ctx context.Context, itemID string, req types.UpdateItemRequest) error
	FinishItem(ctx context.Context, itemID string, req types.FinishItemRequest) (string, error)
	AddLog(ctx context.Context, req types.LogRequest) error
}
