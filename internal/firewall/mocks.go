//go:build linux

package firewall

import (
	"sync"

	"github.com/google/nftables"
	"github.com/google/nftables/userdata"
	"github.com/stretchr/testify/mock"
)

// MockNFTablesConn is a mock implementation of NFTablesConn for testing.
// Expectations returning nil fall back to the in-memory state.
type MockNFTablesConn struct {
	mock.Mock
	mu sync.Mutex

	tables map[string]*nftables.Table
	rules  map[string][]*nftables.Rule
}

// NewMockNFTablesConn creates a new mock nftables connection.
func NewMockNFTablesConn() *MockNFTablesConn {
	return &MockNFTablesConn{
		tables: make(map[string]*nftables.Table),
		rules:  make(map[string][]*nftables.Rule),
	}
}

// AddTable seeds the in-memory state.
func (m *MockNFTablesConn) AddTable(t *nftables.Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[t.Name] = t
}

// AddCommentedRule seeds a rule with the given handle and comment.
func (m *MockNFTablesConn) AddCommentedRule(t *nftables.Table, chain string, handle uint64, comment string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := t.Name + "/" + chain
	m.rules[key] = append(m.rules[key], &nftables.Rule{
		Table:    t,
		Chain:    &nftables.Chain{Name: chain, Table: t},
		Handle:   handle,
		UserData: userdata.AppendString(nil, userdata.TypeComment, comment),
	})
}

func (m *MockNFTablesConn) ListTables() ([]*nftables.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called()
	if args.Get(0) != nil {
		return args.Get(0).([]*nftables.Table), args.Error(1)
	}
	tables := make([]*nftables.Table, 0, len(m.tables))
	for _, t := range m.tables {
		tables = append(tables, t)
	}
	return tables, args.Error(1)
}

func (m *MockNFTablesConn) GetRules(t *nftables.Table, c *nftables.Chain) ([]*nftables.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(t, c)
	if args.Get(0) != nil {
		return args.Get(0).([]*nftables.Rule), args.Error(1)
	}
	key := t.Name + "/" + c.Name
	return m.rules[key], args.Error(1)
}
