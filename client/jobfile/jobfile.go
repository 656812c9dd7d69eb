// Package jobfile reads the YAML job specification consumed by `hive run`.
package jobfile

import (
	"fmt"
	"regexp"

	"github.com/hiveci/hive/api"
)

var nameRegex = regexp.MustCompile(`^[a-z][a-z0-9_-]+$`)
var envKeyRegex = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// Jobfile is the on-disk shape of a job specification.
type Jobfile struct {
	Name         string   `yaml:"name"`
	ProjectDir   string   `yaml:"project_dir"`
	AtomizerVar  string   `yaml:"atomizer_var"`
	Atomizer     string   `yaml:"atomizer"`
	Setup        []string `yaml:"setup"`
	Commands     []string `yaml:"commands"`
	Teardown     []string `yaml:"teardown"`
	MaxExecutors int      `yaml:"max_executors"`
}

func (j Jobfile) Validate() error {
	if !nameRegex.MatchString(j.Name) {
		return fmt.Errorf("name must be a valid identifier")
	}
	if !envKeyRegex.MatchString(j.AtomizerVar) {
		return fmt.Errorf("atomizer_var must be a valid environment variable identifier")
	}
	if j.Atomizer == "" {
		return fmt.Errorf("atomizer is required")
	}
	if len(j.Commands) == 0 {
		return fmt.Errorf("at least one command is required")
	}
	if j.MaxExecutors < 0 {
		return fmt.Errorf("max_executors must not be negative")
	}
	return nil
}

// Spec converts the jobfile into the wire representation.
func (j Jobfile) Spec() api.JobSpec {
	return api.JobSpec{
		Name:             j.Name,
		ProjectDir:       j.ProjectDir,
		AtomizerVar:      j.AtomizerVar,
		Atomizer:         j.Atomizer,
		SetupCommands:    j.Setup,
		Commands:         j.Commands,
		TeardownCommands: j.Teardown,
		MaxExecutors:     j.MaxExecutors,
	}
}
