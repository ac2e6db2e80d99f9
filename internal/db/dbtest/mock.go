// Package dbtest provides testify-backed fakes for db.DB.
package dbtest

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"
)

// ---------- Mock DB ----------

type MockDB struct {
	mock.Mock
}

func (m *MockDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *MockDB) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Rows), args.Error(1)
}

func (m *MockDB) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// SQLContaining matches a query argument that contains every fragment.
func SQLContaining(fragments ...string) interface{} {
	return mock.MatchedBy(func(sql string) bool {
		for _, f := range fragments {
			if !strings.Contains(sql, f) {
				return false
			}
		}
		return true
	})
}

// Tag builds a command tag such as "DELETE 1".
func Tag(s string) pgconn.CommandTag {
	return pgconn.NewCommandTag(s)
}

// ---------- Mock Rows ----------

type MockRows struct {
	callIndex int
	scanFuncs []func(dest ...any) error
	Error     error
}

func NewRows(scanFuncs ...func(dest ...any) error) *MockRows {
	return &MockRows{scanFuncs: scanFuncs}
}

func (m *MockRows) Next() bool {
	return m.callIndex < len(m.scanFuncs)
}

func (m *MockRows) Scan(dest ...any) error {
	if m.callIndex < len(m.scanFuncs) {
		fn := m.scanFuncs[m.callIndex]
		m.callIndex++
		return fn(dest...)
	}
	return nil
}

func (m *MockRows) Err() error                                   { return m.Error }
func (m *MockRows) Close()                                       {}
func (m *MockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (m *MockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (m *MockRows) RawValues() [][]byte                          { return nil }
func (m *MockRows) Values() ([]any, error)                       { return nil, nil }
func (m *MockRows) Conn() *pgx.Conn                              { return nil }

// ---------- Mock Row ----------

type MockRow struct {
	ScanFn func(dest ...any) error
}

func (m *MockRow) Scan(dest ...any) error {
	return m.ScanFn(dest...)
}

// NoRow is a row whose Scan reports pgx.ErrNoRows.
func NoRow() *MockRow {
	return &MockRow{ScanFn: func(dest ...any) error { return pgx.ErrNoRows }}
}
