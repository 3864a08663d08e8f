package main

import (
	"crypto/sha256"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/veriflow-io/veriflow/migrations"
)

// EmbeddedMigration wraps the embedded migration files with validation:
// filename format, up/down pairing, gap-free sequence, and checksum
// integrity across repeated validations.
type EmbeddedMigration struct {
	fs        fs.FS
	checksums map[string]string // filename -> checksum
}

// MigrationInfo contains parsed information about one migration file.
type MigrationInfo struct {
	Sequence  int
	Name      string
	Direction string // "up" or "down"
	Filename  string
	Checksum  string
}

// Migration filename standard: 001_migration_name.up.sql / 001_migration_name.down.sql.
var migrationFilenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// NewEmbeddedMigration creates an EmbeddedMigration with an injectable
// filesystem. Pass nil to use the built-in embedded migrations.
func NewEmbeddedMigration(filesystem fs.FS) *EmbeddedMigration {
	if filesystem == nil {
		filesystem = migrations.FS
	}

	return &EmbeddedMigration{
		fs:        filesystem,
		checksums: make(map[string]string),
	}
}

// GetEmbeddedMigrations returns the file system containing migration files.
func (e *EmbeddedMigration) GetEmbeddedMigrations() fs.FS {
	return e.fs
}

// ListEmbeddedMigrations returns migration files matching the naming
// standard, sorted lexicographically. Nonconforming filenames are ignored.
func (e *EmbeddedMigration) ListEmbeddedMigrations() ([]string, error) {
	entries, err := fs.ReadDir(e.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations directory: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		filename := entry.Name()
		if filepath.Ext(filename) == ".sql" && migrationFilenameRegex.MatchString(filename) {
			files = append(files, filename)
		}
	}

	sort.Strings(files)

	return files, nil
}

// ValidateEmbeddedMigrations performs full validation of the embedded
// migration set.
func (e *EmbeddedMigration) ValidateEmbeddedMigrations() error {
	files, err := e.ListEmbeddedMigrations()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("no embedded migration files found")
	}

	for _, file := range files {
		if _, err := e.GetEmbeddedMigrationContent(file); err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}
	}

	if err := e.validateFilenames(files); err != nil {
		return err
	}

	if err := e.validatePairing(files); err != nil {
		return err
	}

	if err := e.validateSequence(files); err != nil {
		return err
	}

	if len(e.checksums) > 0 {
		if err := e.validateChecksums(files); err != nil {
			return err
		}
	}

	for _, file := range files {
		content, err := e.GetEmbeddedMigrationContent(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}

		e.checksums[file] = e.calculateChecksum(content)
	}

	return nil
}

// GetEmbeddedMigrationContent returns the content of one migration file.
func (e *EmbeddedMigration) GetEmbeddedMigrationContent(filename string) ([]byte, error) {
	return fs.ReadFile(e.fs, filename)
}

func (e *EmbeddedMigration) parseMigrationFilename(filename string) (*MigrationInfo, error) {
	matches := migrationFilenameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 {
		return nil, fmt.Errorf(
			"invalid migration filename format: %s (expected: 001_name.up.sql or 001_name.down.sql)",
			filename,
		)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid sequence number in filename %s: %w", filename, err)
	}

	return &MigrationInfo{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
		Filename:  filename,
	}, nil
}

func (e *EmbeddedMigration) validateFilenames(files []string) error {
	for _, file := range files {
		if _, err := e.parseMigrationFilename(file); err != nil {
			return fmt.Errorf("filename validation failed for %s: %w", file, err)
		}
	}

	return nil
}

// validatePairing ensures every up migration has a matching down migration.
func (e *EmbeddedMigration) validatePairing(files []string) error {
	migrations := make(map[string]map[string]*MigrationInfo)

	for _, file := range files {
		migration, err := e.parseMigrationFilename(file)
		if err != nil {
			return err
		}

		key := fmt.Sprintf("%03d_%s", migration.Sequence, migration.Name)
		if migrations[key] == nil {
			migrations[key] = make(map[string]*MigrationInfo)
		}

		migrations[key][migration.Direction] = migration
	}

	for key, directions := range migrations {
		if _, hasUp := directions["up"]; !hasUp {
			return fmt.Errorf("orphaned down migration: missing up migration for %s", key)
		}

		if _, hasDown := directions["down"]; !hasDown {
			return fmt.Errorf("orphaned up migration: missing down migration for %s", key)
		}
	}

	return nil
}

// validateSequence ensures the sequence starts at 001 and has no gaps.
func (e *EmbeddedMigration) validateSequence(files []string) error {
	sequences := make(map[int]bool)

	for _, file := range files {
		migration, err := e.parseMigrationFilename(file)
		if err != nil {
			return err
		}

		sequences[migration.Sequence] = true
	}

	var sequenceNumbers []int
	for seq := range sequences {
		sequenceNumbers = append(sequenceNumbers, seq)
	}

	sort.Ints(sequenceNumbers)

	if len(sequenceNumbers) == 0 {
		return nil
	}

	if sequenceNumbers[0] != 1 {
		return fmt.Errorf(
			"migration sequence should start with 001, but found %03d",
			sequenceNumbers[0],
		)
	}

	for i := 1; i < len(sequenceNumbers); i++ {
		expected := sequenceNumbers[i-1] + 1
		if sequenceNumbers[i] != expected {
			return fmt.Errorf(
				"gap in migration sequence: expected %03d, found %03d",
				expected, sequenceNumbers[i],
			)
		}
	}

	return nil
}

func (e *EmbeddedMigration) calculateChecksum(content []byte) string {
	hash := sha256.Sum256(content)

	return fmt.Sprintf("%x", hash)
}

// validateChecksums verifies migration files have not changed since the last
// validation pass.
func (e *EmbeddedMigration) validateChecksums(files []string) error {
	for _, file := range files {
		content, err := e.GetEmbeddedMigrationContent(file)
		if err != nil {
			return fmt.Errorf("failed to read file %s for checksum validation: %w", file, err)
		}

		if stored, exists := e.checksums[file]; exists {
			if e.calculateChecksum(content) != stored {
				return fmt.Errorf("checksum mismatch for %s: file has been modified", file)
			}
		}
	}

	return nil
}
