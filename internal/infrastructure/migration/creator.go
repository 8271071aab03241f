package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"
)

const (
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

// New migrations open with a header naming them. Both files share one
// template so the pair never drifts apart.
var migrationTemplate = template.Must(template.New("migration").Parse(`-- {{.Name}}{{if .Down}} (rollback){{end}}
-- Created: {{.Timestamp}}
{{- if .Description}}
-- {{.Description}}
{{- end}}
{{if .Down}}
-- Undo the up migration in reverse order.
{{else}}
-- Ledger tables are team scoped: every new table needs team_id UUID NOT NULL
-- and an index leading with team_id.
{{end}}
`))

// MigrationFile is a freshly written up/down pair
type MigrationFile struct {
	Version     string
	Name        string
	Description string
	Timestamp   string
	UpPath      string
	DownPath    string
}

// CreateMigration writes an empty up/down pair into migrationsDir. The
// version is the creation time as YYYYMMDDHHMMSS so files sort in order.
func CreateMigration(migrationsDir, name, description string) (*MigrationFile, error) {
	slug := sanitizeName(name)
	if slug == "" {
		return nil, fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(migrationsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create migrations directory: %w", err)
	}

	now := time.Now()
	mf := &MigrationFile{
		Version:     now.Format("20060102150405"),
		Name:        name,
		Description: description,
		Timestamp:   now.Format(time.RFC3339),
	}
	base := filepath.Join(migrationsDir, mf.Version+"_"+slug)
	mf.UpPath = base + upSuffix
	mf.DownPath = base + downSuffix

	if err := writeMigration(mf.UpPath, mf, false); err != nil {
		return nil, err
	}
	if err := writeMigration(mf.DownPath, mf, true); err != nil {
		_ = os.Remove(mf.UpPath)
		return nil, err
	}
	return mf, nil
}

func writeMigration(path string, mf *MigrationFile, down bool) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	data := struct {
		*MigrationFile
		Down bool
	}{mf, down}
	if err := migrationTemplate.Execute(f, data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// sanitizeName lowercases name and joins its alphanumeric words with single
// underscores. Everything else is dropped.
func sanitizeName(name string) string {
	words := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	})
	for i, w := range words {
		words[i] = strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				return r
			}
			return -1
		}, w)
	}
	out := words[:0]
	for _, w := range words {
		if w != "" {
			out = append(out, w)
		}
	}
	return strings.Join(out, "_")
}

// ListMigrations returns the sorted base names of the migrations in a directory
func ListMigrations(migrationsDir string) ([]string, error) {
	if _, err := os.Stat(migrationsDir); errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	return ListMigrationsFS(os.DirFS(migrationsDir))
}

// ListMigrationsFS returns the sorted base names of the up migrations in fsys
func ListMigrationsFS(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	migrations := make([]string, 0)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if base, ok := strings.CutSuffix(entry.Name(), upSuffix); ok && base != "" {
			migrations = append(migrations, base)
		}
	}
	sort.Strings(migrations)
	return migrations, nil
}

// CheckPairs reports every up migration in fsys that has no down file
func CheckPairs(fsys fs.FS) error {
	migrations, err := ListMigrationsFS(fsys)
	if err != nil {
		return err
	}
	var missing []string
	for _, base := range migrations {
		if _, err := fs.Stat(fsys, base+downSuffix); err != nil {
			missing = append(missing, base)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("migrations without down file: %s", strings.Join(missing, ", "))
	}
	return nil
}
