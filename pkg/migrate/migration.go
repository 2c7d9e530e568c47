package migrate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// filenameRe matches migration files: NNN_<snake_case_name>.sql
var filenameRe = regexp.MustCompile(`^(\d{3})_([a-z0-9_]+)\.sql$`)

// Migration is one discovered migration file
type Migration struct {
	Plugin   string
	Version  int
	Name     string
	Filename string
	Path     string
	UpSQL    string
	DownSQL  string
	Checksum string
}

// MigrationsDir returns the on-disk migrations directory for a plugin
func MigrationsDir(root, plugin string) string {
	return filepath.Join(root, plugin, "migrations")
}

// Discover enumerates a plugin's migration files sorted ascending by
// version. A missing migrations directory yields an empty list.
func Discover(root, plugin string) ([]*Migration, error) {
	dir := MigrationsDir(root, plugin)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read migrations dir %s: %w", dir, err)
	}

	var migrations []*Migration
	seen := make(map[int]string)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := filenameRe.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		version, _ := strconv.Atoi(match[1])
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %d: %s and %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		path := filepath.Join(dir, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", path, err)
		}

		up, down := splitSections(string(content))
		migrations = append(migrations, &Migration{
			Plugin:   plugin,
			Version:  version,
			Name:     match[2],
			Filename: entry.Name(),
			Path:     path,
			UpSQL:    up,
			DownSQL:  down,
			Checksum: ChecksumBytes(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Find returns the discovered migration with the given version, or nil
func Find(migrations []*Migration, version int) *Migration {
	for _, m := range migrations {
		if m.Version == version {
			return m
		}
	}
	return nil
}

// ChecksumBytes computes the content checksum: SHA-256 over the file
// with line endings normalized, so CRLF checkouts verify cleanly.
func ChecksumBytes(content []byte) string {
	normalized := strings.ReplaceAll(string(content), "\r\n", "\n")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// splitSections separates the -- UP and -- DOWN sections of a
// migration file. Text before the first marker belongs to neither.
func splitSections(content string) (up, down string) {
	var section *strings.Builder
	var upBuf, downBuf strings.Builder

	for _, line := range strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		marker := strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(trimmed, "--")))
		if strings.HasPrefix(trimmed, "--") {
			switch marker {
			case "UP":
				section = &upBuf
				continue
			case "DOWN":
				section = &downBuf
				continue
			}
		}
		if section != nil {
			section.WriteString(line)
			section.WriteString("\n")
		}
	}

	return strings.TrimSpace(upBuf.String()), strings.TrimSpace(downBuf.String())
}
