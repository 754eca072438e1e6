package merge

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/drydocklabs/drydock/internal/git"
)

func TestClassifyChange(t *testing.T) {
	tests := []struct {
		name            string
		stat            git.FileStat
		wantSeverity    Severity
		wantDisposition Disposition
	}{
		{
			name:            "lock file is critical",
			stat:            git.FileStat{Path: "go.sum", Additions: 12, Deletions: 4},
			wantSeverity:    SeverityCritical,
			wantDisposition: DispositionHuman,
		},
		{
			name:            "nested lock file is critical",
			stat:            git.FileStat{Path: "web/package-lock.json", Additions: 400, Deletions: 200},
			wantSeverity:    SeverityCritical,
			wantDisposition: DispositionHuman,
		},
		{
			name:            "manifest needs reconciliation",
			stat:            git.FileStat{Path: "go.mod", Additions: 2, Deletions: 1},
			wantSeverity:    SeverityHigh,
			wantDisposition: DispositionAI,
		},
		{
			name:            "monorepo manifest needs reconciliation",
			stat:            git.FileStat{Path: "packages/auth/package.json", Additions: 3, Deletions: 0},
			wantSeverity:    SeverityHigh,
			wantDisposition: DispositionAI,
		},
		{
			name:            "small code change",
			stat:            git.FileStat{Path: "internal/auth/login.go", Additions: 30, Deletions: 10},
			wantSeverity:    SeverityMedium,
			wantDisposition: DispositionAI,
		},
		{
			name:            "large code change needs human review",
			stat:            git.FileStat{Path: "internal/auth/session.go", Additions: 180, Deletions: 40},
			wantSeverity:    SeverityHigh,
			wantDisposition: DispositionHuman,
		},
		{
			name:            "exactly at threshold counts as large",
			stat:            git.FileStat{Path: "main.go", Additions: 200, Deletions: 0},
			wantSeverity:    SeverityHigh,
			wantDisposition: DispositionHuman,
		},
		{
			name:            "just under threshold stays medium",
			stat:            git.FileStat{Path: "main.go", Additions: 199, Deletions: 0},
			wantSeverity:    SeverityMedium,
			wantDisposition: DispositionAI,
		},
		{
			name:            "docs merge mechanically",
			stat:            git.FileStat{Path: "README.md", Additions: 50, Deletions: 20},
			wantSeverity:    SeverityLow,
			wantDisposition: DispositionAuto,
		},
		{
			name:            "binary file merges mechanically",
			stat:            git.FileStat{Path: "assets/logo.png", Additions: 0, Deletions: 0},
			wantSeverity:    SeverityLow,
			wantDisposition: DispositionAuto,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyChange(tt.stat)
			if got.Path != tt.stat.Path {
				t.Errorf("Path = %q, want %q", got.Path, tt.stat.Path)
			}
			if got.Severity != tt.wantSeverity {
				t.Errorf("Severity = %q, want %q", got.Severity, tt.wantSeverity)
			}
			if got.Disposition != tt.wantDisposition {
				t.Errorf("Disposition = %q, want %q", got.Disposition, tt.wantDisposition)
			}
		})
	}
}

func TestClassifyChange_Deterministic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		stat := git.FileStat{
			Path: rapid.SampledFrom([]string{
				"go.sum", "go.mod", "main.go", "internal/api/server.go",
				"README.md", "docs/guide.md", "web/app.tsx", "Cargo.lock",
			}).Draw(rt, "path"),
			Additions: rapid.IntRange(0, 500).Draw(rt, "additions"),
			Deletions: rapid.IntRange(0, 500).Draw(rt, "deletions"),
		}

		first := classifyChange(stat)
		second := classifyChange(stat)
		if first != second {
			rt.Fatalf("classifyChange not deterministic: %+v vs %+v", first, second)
		}

		// Auto disposition always pairs with low severity, and human
		// dispositions never fall below high.
		if first.Disposition == DispositionAuto && first.Severity != SeverityLow {
			rt.Fatalf("auto change classified %s", first.Severity)
		}
		if first.Disposition == DispositionHuman &&
			first.Severity != SeverityHigh && first.Severity != SeverityCritical {
			rt.Fatalf("human-required change classified %s", first.Severity)
		}
	})
}

func TestIsManifestFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"package.json", true},
		{"go.mod", true},
		{"Dockerfile", true},
		{".gitignore", true},
		{".eslintrc.json", true},
		{".env.local", true},
		{"client/package.json", true},
		{"packages/auth/go.mod", true},
		{"server/tsconfig.json", true},
		{"main.go", false},
		{"README.md", false},
		{"internal/deep/package.json", false},
		{"docs/Dockerfile", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := IsManifestFile(tt.path); got != tt.want {
				t.Errorf("IsManifestFile(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestIsLockFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"go.sum", true},
		{"package-lock.json", true},
		{"web/yarn.lock", true},
		{"Cargo.lock", true},
		{"go.mod", false},
		{"main.go", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := IsLockFile(tt.path); got != tt.want {
				t.Errorf("IsLockFile(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestLockFileCommand(t *testing.T) {
	if got := LockFileCommand("go.sum"); got != "go mod tidy" {
		t.Errorf("LockFileCommand(go.sum) = %q, want %q", got, "go mod tidy")
	}
	if got := LockFileCommand("web/package-lock.json"); got != "npm install" {
		t.Errorf("LockFileCommand(package-lock.json) = %q, want %q", got, "npm install")
	}
	if got := LockFileCommand("main.go"); got != "" {
		t.Errorf("LockFileCommand(main.go) = %q, want empty", got)
	}
}

func TestIsCodeFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"main.go", true},
		{"src/App.TSX", true},
		{"lib/util.rb", true},
		{"README.md", false},
		{"config.yaml", false},
		{"image.png", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := IsCodeFile(tt.path); got != tt.want {
				t.Errorf("IsCodeFile(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}
