//go:build !linux

package health

import "context"

// CheckNFTablesNetlink is unavailable outside Linux.
func CheckNFTablesNetlink(ctx context.Context) Check {
	return Check{Status: StatusDegraded, Message: "nftables unsupported on this OS"}
}
