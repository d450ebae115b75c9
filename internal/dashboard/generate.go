package dashboard

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"tpwsn-sim/internal/telemetry"
)

//go:embed templates/*.json.tmpl
var templateFS embed.FS

// DatasourceEnv names the variable holding the Grafana datasource UID of the
// GreptimeDB instance the run writer targets.
const DatasourceEnv = "GREPTIMEDB_DATASOURCE_UID"

// Tables are the GreptimeDB table names the dashboard queries.
type Tables struct {
	MoteLog  string
	Fault    string
	Coverage string
	Summary  string
}

// DefaultTables returns the table names the GreptimeDB writer uses.
func DefaultTables() Tables {
	return Tables{
		MoteLog:  telemetry.MoteLogTableName,
		Fault:    telemetry.FaultTableName,
		Coverage: telemetry.CoverageTableName,
		Summary:  telemetry.SummaryTableName,
	}
}

// Render executes every embedded dashboard template and writes the results to
// outDir, dropping the .tmpl suffix. It returns the written paths.
func Render(outDir string, tables Tables) ([]string, error) {
	funcMap := template.FuncMap{
		"env": func(key string) (string, error) {
			v := os.Getenv(key)
			if v == "" {
				return "", fmt.Errorf("environment variable %s not set", key)
			}
			return v, nil
		},
	}

	names, err := templateFS.ReadDir("templates")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	var written []string
	for _, e := range names {
		t, err := template.New(e.Name()).Funcs(funcMap).ParseFS(templateFS, "templates/"+e.Name())
		if err != nil {
			return nil, err
		}
		var b strings.Builder
		if err := t.Execute(&b, tables); err != nil {
			return nil, fmt.Errorf("render %s: %w", e.Name(), err)
		}
		outPath := filepath.Join(outDir, strings.TrimSuffix(e.Name(), ".tmpl"))
		if err := os.WriteFile(outPath, []byte(b.String()), 0o644); err != nil {
			return nil, err
		}
		written = append(written, outPath)
	}
	return written, nil
}
