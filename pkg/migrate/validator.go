package migrate

import (
	"fmt"
	"strings"
)

// WarningLevel classifies a validation finding. ERROR aborts the
// batch before anything is applied; WARNING is surfaced but does not
// block.
type WarningLevel string

const (
	LevelWarning WarningLevel = "WARNING"
	LevelError   WarningLevel = "ERROR"
)

// Warning is one validation or checksum finding
type Warning struct {
	Level    WarningLevel `json:"level"`
	Message  string       `json:"message"`
	Category string       `json:"category"`
	Version  int          `json:"migration_version"`
	Name     string       `json:"migration_name"`
}

// Validate inspects one migration and returns its findings
func Validate(m *Migration) []Warning {
	var warnings []Warning

	add := func(level WarningLevel, category, format string, args ...any) {
		warnings = append(warnings, Warning{
			Level:    level,
			Message:  fmt.Sprintf(format, args...),
			Category: category,
			Version:  m.Version,
			Name:     m.Name,
		})
	}

	if m.UpSQL == "" {
		add(LevelError, "structure", "migration %03d has an empty -- UP section", m.Version)
	}
	if m.DownSQL == "" {
		add(LevelError, "structure", "migration %03d has no -- DOWN section; every migration must be reversible", m.Version)
	}

	upper := strings.ToUpper(m.UpSQL + "\n" + m.DownSQL)
	if strings.Contains(upper, "DROP TABLE") && !strings.Contains(upper, "DROP TABLE IF EXISTS") {
		add(LevelWarning, "destructive", "migration %03d drops a table without IF EXISTS", m.Version)
	}
	if strings.Contains(upper, "DELETE FROM") && !strings.Contains(upper, "WHERE") {
		add(LevelWarning, "destructive", "migration %03d deletes rows without a WHERE clause", m.Version)
	}

	return warnings
}

// HasErrors reports whether any finding is an ERROR
func HasErrors(warnings []Warning) bool {
	for _, w := range warnings {
		if w.Level == LevelError {
			return true
		}
	}
	return false
}

// VerifyChecksum compares a discovered file against the ledger's
// recorded checksum. Mismatches warn loudly but never block apply.
func VerifyChecksum(m *Migration, recorded string) []Warning {
	if m.Checksum == recorded {
		return nil
	}
	return []Warning{{
		Level:    LevelWarning,
		Message:  fmt.Sprintf("migration %03d file has changed since it was applied (checksum mismatch)", m.Version),
		Category: "checksum",
		Version:  m.Version,
		Name:     m.Name,
	}}
}
