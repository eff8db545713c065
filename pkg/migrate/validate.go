package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	sqlFileRe = regexp.MustCompile(`^(\d{14})_([a-z0-9_]+)\.sql$`)
	// Ledger rows are corrected with offsetting entries, never rewritten.
	ledgerRewriteRe = regexp.MustCompile(`(?i)\b(update\s+token_ledger|delete\s+from\s+token_ledger|truncate\s+(table\s+)?token_ledger)\b`)
)

// Migration is one goose SQL file.
type Migration struct {
	Version int64
	Name    string
	Path    string
}

// ScanDir lists the SQL migrations in dir ordered by version and checks each
// one: filename shape, unique versions, both goose sections, and no rewrite
// of ledger rows in the Up section.
func ScanDir(dir string) ([]Migration, error) {
	if dir == "" {
		return nil, fmt.Errorf("dir is required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}

	var out []Migration
	seen := map[int64]string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		name := e.Name()
		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			return nil, fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		version, _ := strconv.ParseInt(m[1], 10, 64)
		if prev, ok := seen[version]; ok {
			return nil, fmt.Errorf("duplicate migration version %d in %q and %q", version, prev, name)
		}
		seen[version] = name

		full := filepath.Join(dir, name)
		raw, err := os.ReadFile(full)
		if err != nil {
			return nil, fmt.Errorf("read file %q: %w", full, err)
		}
		if err := checkBody(name, string(raw)); err != nil {
			return nil, err
		}
		out = append(out, Migration{Version: version, Name: m[2], Path: full})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// ValidateDir runs ScanDir and discards the listing.
func ValidateDir(dir string) error {
	_, err := ScanDir(dir)
	return err
}

func checkBody(name, txt string) error {
	up := strings.Index(txt, "-- +goose Up")
	down := strings.Index(txt, "-- +goose Down")
	if up < 0 {
		return fmt.Errorf("migration %q missing \"-- +goose Up\"", name)
	}
	if down < 0 {
		return fmt.Errorf("migration %q missing \"-- +goose Down\"", name)
	}
	if down < up {
		return fmt.Errorf("migration %q has Down before Up", name)
	}
	if ledgerRewriteRe.MatchString(txt[up:down]) {
		return fmt.Errorf("migration %q rewrites token_ledger rows; append offsetting entries instead", name)
	}
	return nil
}
