// Package cache holds the ephemeral stores behind the authorization and
// refresh flows: the on-device flow store for in-flight PKCE material, the
// server-side CSRF state binding, and the distributed refresh lock.
package cache

import (
	"context"

	"github.com/sublink-app/sublink/domain"
)

// FlowPurpose names what a flow-store entry holds. Entries are keyed by
// (provider, purpose) rather than by ad hoc string concatenation.
type FlowPurpose string

const (
	// PurposeVerifier is the PKCE code verifier for an in-flight flow.
	PurposeVerifier FlowPurpose = "verifier"
	// PurposeState is the CSRF state for an in-flight flow.
	PurposeState FlowPurpose = "state"
)

// FlowStore is the per-provider ephemeral store for in-flight authorization
// secrets. Entries are write-once, read during redirect validation, and
// deleted unconditionally when the flow ends on any path.
type FlowStore interface {
	Set(ctx context.Context, p domain.Provider, purpose FlowPurpose, value string) error
	// Get returns the stored value and whether one exists.
	Get(ctx context.Context, p domain.Provider, purpose FlowPurpose) (string, bool)
	Delete(ctx context.Context, p domain.Provider, purpose FlowPurpose) error
	// DeleteFlow removes every entry for the provider in one call.
	DeleteFlow(ctx context.Context, p domain.Provider) error
}
