// SPDX-License-Identifier: Apache-2.0

// Package migrations embeds the schema migration files applied by the
// bootstrap in internal/persistence/postgres. Files apply in lexical order,
// so names carry a numeric prefix (0001_..., 0002_...).
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
)

//go:embed *.sql
var files embed.FS

// Migration is one embedded SQL file.
type Migration struct {
	Name string
	SQL  string
}

// Ordered returns every embedded migration sorted by filename.
func Ordered() ([]Migration, error) {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		body, err := files.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read embedded migration %s: %w", name, err)
		}
		out = append(out, Migration{Name: name, SQL: string(body)})
	}
	return out, nil
}
