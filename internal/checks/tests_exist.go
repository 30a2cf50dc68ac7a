package checks

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kestrelworks/stagecraft/internal/validation"
	"github.com/kestrelworks/stagecraft/pkg/models"
)

// ProjectType is the detected project ecosystem of a target directory.
type ProjectType int

const (
	ProjectTypeUnknown ProjectType = iota
	ProjectTypeGo
	ProjectTypeNode
	ProjectTypeRust
	ProjectTypePython
)

// DetectProjectType inspects the target's manifest files.
func DetectProjectType(dir string) ProjectType {
	if fileExists(dir, "go.mod") {
		return ProjectTypeGo
	}
	if fileExists(dir, "package.json") {
		return ProjectTypeNode
	}
	if fileExists(dir, "Cargo.toml") {
		return ProjectTypeRust
	}
	if fileExists(dir, "pyproject.toml") || fileExists(dir, "setup.py") || fileExists(dir, "requirements.txt") {
		return ProjectTypePython
	}
	return ProjectTypeUnknown
}

func fileExists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

// TestsExist verifies the target contains at least one test file for
// its detected ecosystem. It is a boolean check with no score.
type TestsExist struct {
	base
	dir string
}

// NewTestsExist creates the check for the given target directory.
func NewTestsExist(settings Settings, dir string) *TestsExist {
	return &TestsExist{base: base{settings: settings}, dir: dir}
}

// Run walks the target looking for test files. Vendored and hidden
// directories are skipped.
func (c *TestsExist) Run(ctx context.Context, subject validation.Subject) (models.ValidationCheck, error) {
	projectType := DetectProjectType(c.dir)
	if projectType == ProjectTypeUnknown {
		return models.ValidationCheck{
			Passed: false,
			Detail: "could not detect project type in " + c.dir,
		}, nil
	}

	found := 0
	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			name := d.Name()
			if path != c.dir && (strings.HasPrefix(name, ".") || name == "vendor" || name == "node_modules" || name == "target") {
				return filepath.SkipDir
			}
			return nil
		}
		if isTestFile(projectType, d.Name()) {
			found++
		}
		return nil
	})
	if err != nil {
		return models.ValidationCheck{}, err
	}

	if found == 0 {
		return models.ValidationCheck{
			Passed: false,
			Detail: "no test files found in " + c.dir,
		}, nil
	}
	return models.ValidationCheck{
		Passed: true,
		Detail: fmt.Sprintf("%d test file(s) found", found),
	}, nil
}

func isTestFile(projectType ProjectType, name string) bool {
	switch projectType {
	case ProjectTypeGo:
		return strings.HasSuffix(name, "_test.go")
	case ProjectTypeNode:
		return strings.Contains(name, ".test.") || strings.Contains(name, ".spec.")
	case ProjectTypeRust:
		// Rust inlines unit tests; integration tests live under tests/.
		return strings.HasSuffix(name, ".rs") && strings.Contains(name, "test")
	case ProjectTypePython:
		return strings.HasPrefix(name, "test_") && strings.HasSuffix(name, ".py")
	default:
		return false
	}
}

