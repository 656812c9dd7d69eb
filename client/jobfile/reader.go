package jobfile

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	sprig "github.com/go-task/slim-sprig/v3"
	"gopkg.in/yaml.v3"
)

// ReadOptions carries `-p key=value` parameters made available to the
// jobfile template as {{ .Params.key }}.
type ReadOptions struct {
	Params map[string]string
}

// UnmarshalError wraps a YAML parse failure together with the rendered
// source, so verbose mode can show what was actually parsed.
type UnmarshalError struct {
	Err    error
	Source string
}

func (e UnmarshalError) Error() string { return e.Err.Error() }
func (e UnmarshalError) Unwrap() error { return e.Err }

// Read loads a jobfile from disk. The file is rendered as a Go template
// (with the slim-sprig function set) before YAML parsing, then validated.
func Read(path string, options ReadOptions) (Jobfile, error) {
	var jobfile Jobfile

	raw, err := os.ReadFile(path)
	if err != nil {
		return jobfile, fmt.Errorf("failed to read jobfile: %w", err)
	}

	tmpl, err := template.New(path).Funcs(sprig.FuncMap()).Parse(string(raw))
	if err != nil {
		return jobfile, fmt.Errorf("failed to parse jobfile template: %w", err)
	}

	var rendered bytes.Buffer
	if err := tmpl.Execute(&rendered, map[string]any{"Params": options.Params}); err != nil {
		return jobfile, fmt.Errorf("failed to render jobfile template: %w", err)
	}

	if err := yaml.Unmarshal(rendered.Bytes(), &jobfile); err != nil {
		return jobfile, UnmarshalError{Err: err, Source: rendered.String()}
	}

	if err := jobfile.Validate(); err != nil {
		return jobfile, fmt.Errorf("invalid jobfile: %w", err)
	}
	return jobfile, nil
}
