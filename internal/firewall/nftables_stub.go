//go:build !linux

package firewall

import (
	"context"
	"fmt"
)

// NFTablesBackend is unavailable off Linux.
type NFTablesBackend struct{}

// NewNFTablesBackend always fails off Linux.
func NewNFTablesBackend(Options) (*NFTablesBackend, error) {
	return nil, fmt.Errorf("%w: nftables requires linux", ErrBackendUnavailable)
}

func (b *NFTablesBackend) Kind() Kind               { return KindNFTables }
func (b *NFTablesBackend) Granularity() Granularity { return GranularityUID }
func (b *NFTablesBackend) DryRun() bool             { return false }

func (b *NFTablesBackend) ApplyIsolation(context.Context, int, string) ([]string, error) {
	return nil, ErrBackendUnavailable
}

func (b *NFTablesBackend) RemoveIsolation(context.Context, int, []string) error {
	return ErrBackendUnavailable
}

func (b *NFTablesBackend) CleanupAllRules(context.Context) error {
	return ErrBackendUnavailable
}
