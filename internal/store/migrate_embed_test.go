// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsFS_EmbeddedFiles(t *testing.T) {
	pattern := regexp.MustCompile(`^\d{6}_\w+\.(up|down)\.sql$`)

	for _, dialect := range []Dialect{DialectPostgres, DialectSQLite} {
		t.Run(string(dialect), func(t *testing.T) {
			entries, err := migrationsFS.ReadDir(dialect.dir())
			require.NoError(t, err, "should read embedded migrations directory")

			// 3 migrations, each with up and down
			assert.Len(t, entries, 6)

			fileNames := make(map[string]bool)
			for _, entry := range entries {
				fileNames[entry.Name()] = true
				assert.True(t, pattern.MatchString(entry.Name()),
					"file %s should match pattern NNNNNN_name.(up|down).sql", entry.Name())
			}

			for _, expected := range []string{"000001_users.up.sql", "000001_users.down.sql"} {
				assert.True(t, fileNames[expected], "should contain %s", expected)
			}
		})
	}
}
