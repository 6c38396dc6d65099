package database

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/lesson-notifier/migrations"
)

func TestListMigrations_SortsAndFilters(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_b.up.sql":   {Data: []byte("SELECT 2;")},
		"0001_a.up.sql":   {Data: []byte("SELECT 1;")},
		"0001_a.down.sql": {Data: []byte("SELECT 0;")},
		"README.md":       {Data: []byte("docs")},
		"nested/x.up.sql": {Data: []byte("SELECT 3;")},
	}

	names, err := ListMigrations(fsys, ".")
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_a.up.sql", "0002_b.up.sql"}, names)
}

func TestListMigrations_Embedded(t *testing.T) {
	names, err := ListMigrations(migrations.FS, ".")
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_init.up.sql", "0002_metadata_cursor.up.sql"}, names)
}
