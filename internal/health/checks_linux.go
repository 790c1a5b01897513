//go:build linux

package health

import (
	"context"
	"fmt"

	"github.com/google/nftables"

	"grimm.is/isolator/internal/brand"
)

// CheckNFTablesNetlink verifies nftables is reachable over netlink and
// reports whether an isolation table is currently present.
func CheckNFTablesNetlink(ctx context.Context) Check {
	conn, err := nftables.New()
	if err != nil {
		return Check{Status: StatusDegraded, Message: fmt.Sprintf("failed to open nftables connection: %v", err)}
	}

	tables, err := conn.ListTables()
	if err != nil {
		return Check{Status: StatusDegraded, Message: fmt.Sprintf("failed to list tables: %v", err)}
	}
	for _, t := range tables {
		if t.Name == brand.TableName() && t.Family == nftables.TableFamilyINet {
			return Check{Status: StatusHealthy, Message: fmt.Sprintf("nftables operational (%d tables, inet %s present)", len(tables), t.Name)}
		}
	}
	return Check{Status: StatusHealthy, Message: fmt.Sprintf("nftables operational (%d tables)", len(tables))}
}
