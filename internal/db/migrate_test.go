package db

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingVersions_Embedded(t *testing.T) {
	versions, err := PendingVersions(MigrationSource{})
	require.NoError(t, err)
	// acme_accounts, domain_leases, api_keys
	assert.Equal(t, []int64{1, 2, 3}, versions)
}

func TestPendingVersions_Override(t *testing.T) {
	fsys := fstest.MapFS{
		"00001_acme_accounts.sql": {Data: []byte("-- +goose Up\nSELECT 1;\n-- +goose Down\nSELECT 1;\n")},
		"00007_hotfix.sql":        {Data: []byte("-- +goose Up\nSELECT 1;\n-- +goose Down\nSELECT 1;\n")},
	}
	versions, err := PendingVersions(MigrationSource{FS: fsys})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 7}, versions)
}

func TestMigrationSource_Resolve(t *testing.T) {
	fsys, dir := MigrationSource{}.resolve()
	assert.NotNil(t, fsys)
	assert.Equal(t, "certflow", dir)

	custom := fstest.MapFS{}
	fsys, dir = MigrationSource{FS: custom, Dir: "sql"}.resolve()
	assert.Equal(t, custom, fsys)
	assert.Equal(t, "sql", dir)
}
