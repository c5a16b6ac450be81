package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/kilnbuild/kiln/pkg/build"
	"github.com/kilnbuild/kiln/pkg/fork"
)

// Output formats accepted by -o.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
	formatTOML = "toml"
)

// projectReport is the evaluation outcome of one project.
type projectReport struct {
	Path    string          `json:"path" yaml:"path"`
	Name    string          `json:"name" yaml:"name"`
	State   string          `json:"state" yaml:"state"`
	Failure string          `json:"failure,omitempty" yaml:"failure,omitempty"`
	Forks   []fork.Snapshot `json:"forks,omitempty" yaml:"forks,omitempty"`
}

// buildReport is the evaluation outcome of a build.
type buildReport struct {
	BuildID  string          `json:"build_id" yaml:"build_id"`
	Name     string          `json:"name" yaml:"name"`
	RootDir  string          `json:"root_dir" yaml:"root_dir"`
	Projects []projectReport `json:"projects" yaml:"projects"`
}

func newBuildReport(s *session) *buildReport {
	report := &buildReport{
		BuildID: s.buildID,
		Name:    s.build.Settings().Build.Name,
		RootDir: s.build.RootDir(),
	}
	for _, p := range s.build.ProjectRegistry().Projects() {
		report.Projects = append(report.Projects, newProjectReport(p))
	}
	return report
}

func newProjectReport(p *build.Project) projectReport {
	r := projectReport{
		Path:  p.Path(),
		Name:  p.Name(),
		State: p.State().String(),
		Forks: p.Snapshots(),
	}
	if err := p.Failure(); err != nil {
		r.Failure = err.Error()
	}
	return r
}

// resolveFormat applies --json to the -o flag.
func resolveFormat(opts *globalOptions, format string) (string, error) {
	if opts.jsonOutput {
		return formatJSON, nil
	}
	switch format {
	case "", formatText:
		return formatText, nil
	case formatJSON, formatYAML, formatTOML:
		return format, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (text, json, yaml, toml)", format)
	}
}

// writeOutput encodes v in format. Text output is produced by text.
func writeOutput(w io.Writer, format string, v interface{}, text func(io.Writer) error) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case formatTOML:
		return encodeTOML(w, v)
	default:
		return text(w)
	}
}

func writeBuildText(w io.Writer, report *buildReport) error {
	fmt.Fprintf(w, "Build %s (%s)\n", report.Name, report.RootDir)
	for _, p := range report.Projects {
		status := "ok"
		switch {
		case p.Failure != "":
			status = "FAILED"
		case p.State != build.StateAfterFired.String():
			status = p.State
		}
		fmt.Fprintf(w, "\nProject %s [%s]\n", p.Path, status)
		if p.Failure != "" {
			fmt.Fprintf(w, "  error: %s\n", p.Failure)
		}
		for _, f := range p.Forks {
			fmt.Fprintf(w, "  fork %s: %s\n", f.Name, formatCommand(f.Executable, f.AllJvmArgs))
		}
	}
	return nil
}

func formatCommand(executable string, args []string) string {
	out := executable
	for _, a := range args {
		out += " " + a
	}
	return out
}

// encodeTOML writes v as TOML using its JSON field names. TOML documents
// are tables, so lists are wrapped in an "items" array. TOML has no null,
// so null values are dropped.
func encodeTOML(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	doc = dropNulls(doc)
	if _, ok := doc.(map[string]interface{}); !ok {
		doc = map[string]interface{}{"items": doc}
	}
	return toml.NewEncoder(w).Encode(doc)
}

func dropNulls(v interface{}) interface{} {
	switch v := v.(type) {
	case map[string]interface{}:
		for k, e := range v {
			if e == nil {
				delete(v, k)
				continue
			}
			v[k] = dropNulls(e)
		}
		return v
	case []interface{}:
		out := v[:0]
		for _, e := range v {
			if e != nil {
				out = append(out, dropNulls(e))
			}
		}
		return out
	default:
		return v
	}
}
