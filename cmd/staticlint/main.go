// Command staticlint runs the project's static checks: a set of analyzers
// from the Go toolchain, ineffassign, nilerr, the project-specific norawhttp
// analyzer and the staticcheck analyzers named in staticlint.json next to the
// binary. Without that file every SA analyzer is enabled.
package main

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/gordonklaus/ineffassign/pkg/ineffassign"
	"github.com/gostaticanalysis/nilerr"
	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/multichecker"
	"golang.org/x/tools/go/analysis/passes/copylock"
	"golang.org/x/tools/go/analysis/passes/loopclosure"
	"golang.org/x/tools/go/analysis/passes/lostcancel"
	"golang.org/x/tools/go/analysis/passes/printf"
	"golang.org/x/tools/go/analysis/passes/structtag"
	"golang.org/x/tools/go/analysis/passes/unmarshal"
	"golang.org/x/tools/go/analysis/passes/unreachable"
	"honnef.co/go/tools/staticcheck"

	"github.com/olly-social/olly/cmd/staticlint/norawhttp"
)

const configFileName = "staticlint.json"

// ConfigData lists the staticcheck analyzers to enable, e.g. "SA1000".
type ConfigData struct {
	Staticcheck []string `json:"staticcheck"`
}

func loadConfig() (*ConfigData, error) {
	executable, err := os.Executable()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(filepath.Dir(executable), configFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var cfg ConfigData
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}

	checks := []*analysis.Analyzer{
		copylock.Analyzer,
		loopclosure.Analyzer,
		lostcancel.Analyzer,
		printf.Analyzer,
		structtag.Analyzer,
		unmarshal.Analyzer,
		unreachable.Analyzer,

		ineffassign.Analyzer,
		nilerr.Analyzer,

		norawhttp.Analyzer,
	}

	enabled := make(map[string]bool)
	if cfg != nil {
		for _, name := range cfg.Staticcheck {
			enabled[name] = true
		}
	}

	for _, v := range staticcheck.Analyzers {
		if enabled[v.Analyzer.Name] || (cfg == nil && strings.HasPrefix(v.Analyzer.Name, "SA")) {
			checks = append(checks, v.Analyzer)
		}
	}

	multichecker.Main(checks...)
}
