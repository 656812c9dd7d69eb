package jobfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJobfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hive.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestReadRendersTemplateParams(t *testing.T) {
	path := writeJobfile(t, `
name: backend-tests
atomizer_var: TESTPATH
atomizer: find tests -name 'test_*.py'
commands:
  - pytest -v {{ .Params.marker | default "" }} $TESTPATH
max_executors: {{ .Params.executors | default 0 }}
`)

	j, err := Read(path, ReadOptions{Params: map[string]string{"marker": "-m smoke", "executors": "4"}})
	require.NoError(t, err)
	assert.Equal(t, "backend-tests", j.Name)
	assert.Equal(t, []string{"pytest -v -m smoke $TESTPATH"}, j.Commands)
	assert.Equal(t, 4, j.MaxExecutors)
}

func TestReadRejectsInvalidYAML(t *testing.T) {
	path := writeJobfile(t, "name: [unclosed")

	_, err := Read(path, ReadOptions{})
	require.Error(t, err)
	var unmarshalErr UnmarshalError
	require.ErrorAs(t, err, &unmarshalErr)
	assert.Contains(t, unmarshalErr.Source, "unclosed")
}

func TestReadRejectsMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "absent.yaml"), ReadOptions{})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Jobfile{
		Name:        "suite",
		AtomizerVar: "TESTPATH",
		Atomizer:    "ls tests",
		Commands:    []string{"run $TESTPATH"},
	}
	assert.NoError(t, valid.Validate())

	for name, mutate := range map[string]func(*Jobfile){
		"uppercase name":        func(j *Jobfile) { j.Name = "Suite" },
		"lowercase env var":     func(j *Jobfile) { j.AtomizerVar = "testpath" },
		"missing atomizer":      func(j *Jobfile) { j.Atomizer = "" },
		"no commands":           func(j *Jobfile) { j.Commands = nil },
		"negative max_executors": func(j *Jobfile) { j.MaxExecutors = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			j := valid
			mutate(&j)
			assert.Error(t, j.Validate())
		})
	}
}

func TestSpecCarriesAllFields(t *testing.T) {
	j := Jobfile{
		Name:         "suite",
		ProjectDir:   "/src",
		AtomizerVar:  "TESTPATH",
		Atomizer:     "ls tests",
		Setup:        []string{"make deps"},
		Commands:     []string{"run $TESTPATH"},
		Teardown:     []string{"make clean"},
		MaxExecutors: 2,
	}

	spec := j.Spec()
	assert.Equal(t, "suite", spec.Name)
	assert.Equal(t, "/src", spec.ProjectDir)
	assert.Equal(t, []string{"make deps"}, spec.SetupCommands)
	assert.Equal(t, []string{"make clean"}, spec.TeardownCommands)
	assert.Equal(t, 2, spec.MaxExecutors)
}
