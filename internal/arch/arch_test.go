// ./internal/arch/arch_test.go
package arch

import (
	"bytes"
	"encoding/json"
	"io"
	"os/exec"
	"strings"
	"testing"
)

type pkg struct {
	ImportPath string
	Imports    []string
	Standard   bool
}

func TestImportBoundaries(t *testing.T) {
	cmd := exec.Command("go", "list", "-json", "./...")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		t.Fatalf("go list: %v", err)
	}
	dec := json.NewDecoder(&out)

	// Lower layers must not reach up into orchestration or presentation.
	bans := map[string][]string{
		"tcrflow/internal/clonotype": {
			"tcrflow/internal/merge", "tcrflow/internal/compare",
			"tcrflow/internal/scheduler", "tcrflow/internal/app",
			"tcrflow/internal/output", "tcrflow/internal/cli", "tcrflow/cmd/",
		},
		"tcrflow/internal/cache": {
			"tcrflow/internal/scheduler", "tcrflow/internal/merge",
			"tcrflow/internal/app", "tcrflow/internal/cli", "tcrflow/cmd/",
		},
		"tcrflow/internal/tool": {
			"tcrflow/internal/scheduler", "tcrflow/internal/app",
			"tcrflow/internal/cli", "tcrflow/internal/output", "tcrflow/cmd/",
		},
		"tcrflow/internal/merge": {
			"tcrflow/internal/scheduler", "tcrflow/internal/app",
			"tcrflow/internal/cli", "tcrflow/internal/output", "tcrflow/cmd/",
		},
		"tcrflow/internal/compare": {
			"tcrflow/internal/scheduler", "tcrflow/internal/app",
			"tcrflow/internal/cli", "tcrflow/internal/output", "tcrflow/cmd/",
		},
		"tcrflow/internal/scheduler": {
			"tcrflow/internal/app", "tcrflow/internal/cli",
			"tcrflow/internal/output", "tcrflow/cmd/",
		},
		"tcrflow/internal/output": {
			"tcrflow/internal/app", "tcrflow/internal/cli", "tcrflow/cmd/",
		},
		"tcrflow/internal/writers": {
			"tcrflow/internal/app", "tcrflow/internal/cli",
			"tcrflow/internal/scheduler", "tcrflow/cmd/",
		},
	}

	var violations []string
	for {
		var p pkg
		if err := dec.Decode(&p); err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !strings.HasPrefix(p.ImportPath, "tcrflow/") {
			continue
		}
		imp := p.ImportPath
		for prefix, forbidden := range bans {
			if !strings.HasPrefix(imp, prefix) {
				continue
			}
			for _, dep := range p.Imports {
				if !strings.HasPrefix(dep, "tcrflow/") {
					continue
				}
				for _, ban := range forbidden {
					if strings.HasPrefix(dep, ban) {
						violations = append(violations, imp+" → "+dep)
					}
				}
			}
		}
	}

	if len(violations) > 0 {
		t.Fatalf("import boundary violations:\n  %s", strings.Join(violations, "\n  "))
	}
}
