package architecture_test

import (
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const modulePath = "github.com/juanfero/rappi-intelligent-ops"

type layerRule struct {
	sourcePrefix string
	forbidden    []string
	hint         string
}

func internal(pkgs ...string) []string {
	out := make([]string, len(pkgs))
	for i, p := range pkgs {
		out[i] = modulePath + "/" + p
	}
	return out
}

var rules = []layerRule{
	{
		sourcePrefix: modulePath + "/internal/domain",
		forbidden: internal("internal/api", "internal/app", "internal/config", "internal/db", "internal/engine",
			"internal/ingest", "internal/middleware", "internal/report", "internal/scheduler", "internal/service",
			"internal/stats", "internal/telemetry", "cmd", "pkg/cli"),
		hint: "domain may only import domain",
	},
	{
		sourcePrefix: modulePath + "/internal/stats",
		forbidden:    internal("internal"),
		hint:         "stats is a leaf package",
	},
	{
		sourcePrefix: modulePath + "/internal/service",
		forbidden: internal("internal/api", "internal/app", "internal/db", "internal/engine", "internal/ingest",
			"internal/middleware", "internal/scheduler", "internal/telemetry", "cmd", "pkg/cli"),
		hint: "service should depend on domain, config, stats, report and service-local packages",
	},
	{
		sourcePrefix: modulePath + "/internal/report",
		forbidden:    internal("internal/api", "internal/app", "internal/db", "internal/engine", "internal/service", "cmd", "pkg/cli"),
		hint:         "report renders domain values only",
	},
	{
		sourcePrefix: modulePath + "/internal/api",
		forbidden:    internal("internal/app", "internal/db", "internal/engine", "internal/ingest", "cmd", "pkg/cli"),
		hint:         "api should depend on service/domain/middleware/telemetry packages",
	},
	{
		sourcePrefix: modulePath + "/internal/db",
		forbidden:    internal("internal/api", "internal/app", "internal/engine", "internal/middleware", "internal/service", "cmd", "pkg/cli"),
		hint:         "db should depend on domain and db-local packages",
	},
	{
		sourcePrefix: modulePath + "/internal/engine",
		forbidden:    internal("internal/api", "internal/app", "internal/db", "internal/service", "cmd", "pkg/cli"),
		hint:         "engine should depend on domain and engine-local packages",
	},
	{
		sourcePrefix: modulePath + "/internal/middleware",
		forbidden:    internal("internal/api", "internal/app", "internal/db", "internal/engine", "internal/service"),
		hint:         "middleware should depend on domain and middleware-local packages",
	},
}

func TestImportBoundaries(t *testing.T) {
	files, err := collectGoFiles(filepath.Join(repoRootDir(), "internal"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	violations := make([]string, 0)
	fset := token.NewFileSet()

	for _, file := range files {
		if shouldSkipFile(file) {
			continue
		}

		sourcePkg := packageImportPath(file)
		rule, ok := findRule(sourcePkg)
		if !ok {
			continue
		}

		parsed, parseErr := parser.ParseFile(fset, file, nil, parser.ImportsOnly)
		require.NoErrorf(t, parseErr, "parse imports for %s", file)

		for _, imp := range parsed.Imports {
			importPath := strings.Trim(imp.Path.Value, "\"")
			if !strings.HasPrefix(importPath, modulePath+"/") {
				continue
			}
			if violatesRule(importPath, rule.forbidden) {
				violations = append(violations,
					"governance: "+sourcePkg+" imports "+importPath+" via "+relToRepoRoot(file)+"; allowed direction: "+rule.hint,
				)
			}
		}
	}

	if len(violations) > 0 {
		sort.Strings(violations)
		t.Fatalf("%s", strings.Join(violations, "\n"))
	}
}

// Production code never imports test helpers.
func TestTestutilOnlyInTests(t *testing.T) {
	files, err := collectGoFiles(repoRootDir())
	require.NoError(t, err)

	fset := token.NewFileSet()
	for _, file := range files {
		if shouldSkipFile(file) || strings.Contains(file, "/internal/testutil/") {
			continue
		}
		parsed, err := parser.ParseFile(fset, file, nil, parser.ImportsOnly)
		require.NoErrorf(t, err, "parse imports for %s", file)
		for _, imp := range parsed.Imports {
			require.NotEqualf(t, `"`+modulePath+`/internal/testutil"`, imp.Path.Value,
				"governance: %s imports testutil outside tests", relToRepoRoot(file))
		}
	}
}

func collectGoFiles(root string) ([]string, error) {
	files := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), "_") || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".go") {
			files = append(files, filepath.ToSlash(path))
		}
		return nil
	})
	return files, err
}

func repoRootDir() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "."
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}

func relToRepoRoot(path string) string {
	rel, err := filepath.Rel(repoRootDir(), path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func shouldSkipFile(path string) bool {
	return strings.HasSuffix(filepath.Base(path), "_test.go")
}

func packageImportPath(file string) string {
	return modulePath + "/" + filepath.ToSlash(filepath.Dir(relToRepoRoot(file)))
}

func findRule(sourcePkg string) (layerRule, bool) {
	for _, rule := range rules {
		if hasPathPrefix(sourcePkg, rule.sourcePrefix) {
			return rule, true
		}
	}
	return layerRule{}, false
}

func violatesRule(importPath string, forbidden []string) bool {
	for _, prefix := range forbidden {
		if hasPathPrefix(importPath, prefix) {
			return true
		}
	}
	return false
}

func hasPathPrefix(value string, prefix string) bool {
	return value == prefix || strings.HasPrefix(value, prefix+"/")
}
