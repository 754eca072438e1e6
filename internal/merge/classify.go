package merge

import (
	"path/filepath"
	"strings"

	"github.com/drydocklabs/drydock/internal/git"
)

// largeChangeLines is the churn above which a code change is judged
// behavior-affecting enough to need human review before landing.
const largeChangeLines = 200

// classifyChange assigns a severity and disposition to one changed file.
// Deterministic: the same path and churn always classify the same way.
func classifyChange(st git.FileStat) Conflict {
	churn := st.Additions + st.Deletions
	switch {
	case IsLockFile(st.Path):
		return Conflict{
			Path:        st.Path,
			Severity:    SeverityCritical,
			Disposition: DispositionHuman,
			Reason:      "lock file, regenerate with '" + LockFileCommand(st.Path) + "'",
		}
	case IsManifestFile(st.Path):
		return Conflict{
			Path:        st.Path,
			Severity:    SeverityHigh,
			Disposition: DispositionAI,
			Reason:      "shared manifest",
		}
	case IsCodeFile(st.Path):
		if churn >= largeChangeLines {
			return Conflict{
				Path:        st.Path,
				Severity:    SeverityHigh,
				Disposition: DispositionHuman,
				Reason:      "large code change",
			}
		}
		return Conflict{
			Path:        st.Path,
			Severity:    SeverityMedium,
			Disposition: DispositionAI,
			Reason:      "code change",
		}
	default:
		return Conflict{
			Path:        st.Path,
			Severity:    SeverityLow,
			Disposition: DispositionAuto,
		}
	}
}

// manifestPatterns are shared project files that frequently collide when
// several tasks touch them. Changes here need semantic reconciliation, not
// a mechanical merge.
var manifestPatterns = []string{
	// JavaScript/TypeScript ecosystem
	"package.json",
	".npmrc",

	// Go ecosystem
	"go.mod",

	// Rust ecosystem
	"Cargo.toml",

	// Python ecosystem
	"pyproject.toml",
	"requirements.txt",
	"setup.py",
	"Pipfile",

	// Ruby ecosystem
	"Gemfile",

	// Java ecosystem
	"pom.xml",
	"build.gradle",
	"build.gradle.kts",

	// PHP ecosystem
	"composer.json",

	// Root configs (language-agnostic)
	"tsconfig.json",
	"jsconfig.json",
	"Makefile",
	"Dockerfile",
	"docker-compose.yml",
	"docker-compose.yaml",
	".gitignore",
	".gitattributes",
}

// manifestWildcards are glob patterns for manifest-class files.
var manifestWildcards = []string{
	".eslintrc*",
	".prettierrc*",
	"*.csproj",
	"*.sln",
	".env*",
}

// monorepoSubdirs are common first-level directories in monorepo layouts.
// Manifest files below these count the same as root-level ones.
var monorepoSubdirs = []string{
	"client",
	"server",
	"frontend",
	"backend",
	"web",
	"api",
	"app",
	"apps",
	"packages",
	"services",
	"libs",
	"shared",
}

// nestedManifests are manifest basenames that are critical wherever they
// appear in a monorepo subdirectory.
var nestedManifests = []string{
	"package.json",
	"go.mod",
	"Cargo.toml",
	"pyproject.toml",
	"tsconfig.json",
}

// lockFiles maps lock file basenames to the command that regenerates them.
// Lock files should be regenerated after merging their manifest, never
// merged textually.
var lockFiles = map[string]string{
	"package-lock.json": "npm install",
	"yarn.lock":         "yarn install",
	"pnpm-lock.yaml":    "pnpm install",
	"go.sum":            "go mod tidy",
	"Cargo.lock":        "cargo build",
	"poetry.lock":       "poetry lock",
	"Pipfile.lock":      "pipenv lock",
	"Gemfile.lock":      "bundle install",
	"composer.lock":     "composer install",
}

// codeExtensions are file extensions that indicate source code files.
var codeExtensions = []string{
	".go", ".js", ".ts", ".jsx", ".tsx", ".py", ".rb", ".java",
	".c", ".cpp", ".h", ".hpp", ".rs", ".swift", ".kt", ".scala",
	".cs", ".php", ".vue", ".svelte",
}

// IsManifestFile checks if a file path is a shared manifest.
func IsManifestFile(path string) bool {
	path = strings.TrimPrefix(path, "./")
	path = strings.TrimPrefix(path, "/")

	base := filepath.Base(path)
	dir := filepath.Dir(path)

	isRoot := !strings.Contains(path, "/") || path == base

	if isRoot {
		for _, pattern := range manifestPatterns {
			if base == pattern {
				return true
			}
		}
		for _, pattern := range manifestWildcards {
			if matched, _ := filepath.Match(pattern, base); matched {
				return true
			}
		}
	}

	if isInMonorepoSubdir(dir) && isNestedManifest(base) {
		return true
	}

	return false
}

func isInMonorepoSubdir(dir string) bool {
	parts := strings.Split(dir, "/")
	if len(parts) == 0 {
		return false
	}

	for _, subdir := range monorepoSubdirs {
		if strings.EqualFold(parts[0], subdir) {
			return true
		}
	}
	return false
}

func isNestedManifest(base string) bool {
	for _, m := range nestedManifests {
		if base == m {
			return true
		}
	}
	return false
}

// IsLockFile checks if a file is a lock file that should be regenerated.
func IsLockFile(path string) bool {
	_, isLock := lockFiles[filepath.Base(path)]
	return isLock
}

// LockFileCommand returns the command to regenerate a lock file.
func LockFileCommand(path string) string {
	return lockFiles[filepath.Base(path)]
}

// IsCodeFile returns true if the file is a source code file.
func IsCodeFile(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range codeExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
