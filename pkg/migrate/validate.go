package migrate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"strings"

	"go.uber.org/multierr"
)

const (
	markerUp   = "-- +goose Up"
	markerDown = "-- +goose Down"
)

var (
	migrationName = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

	// *_cents columns hold integer minor units.
	fractionalCents = regexp.MustCompile(`(?i)\b(\w+_cents)\s+(numeric|decimal|real|double precision|float\d*|money)\b`)
)

// ValidateDir lints the migration files under dir on disk, so it can run in
// CI before the binary embedding them is built. Every problem found is
// reported, not only the first.
func ValidateDir(dir string) error {
	if dir == "" {
		return errors.New("dir is required")
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("migrations dir: %w", err)
	}
	return validateFS(os.DirFS(dir), dir)
}

func validateFS(fsys fs.FS, label string) error {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return fmt.Errorf("no migrations found in %q", label)
	}

	var problems error
	versions := make(map[string]string, len(names))
	for _, name := range names {
		m := migrationName.FindStringSubmatch(name)
		if m == nil {
			problems = multierr.Append(problems, fmt.Errorf("%s: name must look like YYYYMMDDHHMMSS_snake_case.sql", name))
			continue
		}
		if first, dup := versions[m[1]]; dup {
			problems = multierr.Append(problems, fmt.Errorf("%s: version %s already used by %s", name, m[1], first))
		}
		versions[m[1]] = name

		body, err := fs.ReadFile(fsys, path.Clean(name))
		if err != nil {
			problems = multierr.Append(problems, err)
			continue
		}
		problems = multierr.Append(problems, lintSQL(name, string(body)))
	}
	return problems
}

func lintSQL(name, body string) error {
	var problems error
	up, down := strings.Index(body, markerUp), strings.Index(body, markerDown)
	if up < 0 {
		problems = multierr.Append(problems, fmt.Errorf("%s: missing %q", name, markerUp))
	}
	if down < 0 {
		problems = multierr.Append(problems, fmt.Errorf("%s: missing %q", name, markerDown))
	}
	if up >= 0 && down >= 0 && down < up {
		problems = multierr.Append(problems, fmt.Errorf("%s: down section precedes up", name))
	}
	for _, m := range fractionalCents.FindAllStringSubmatch(body, -1) {
		problems = multierr.Append(problems, fmt.Errorf("%s: %s declared %s, money columns are bigint", name, m[1], m[2]))
	}
	return problems
}
