package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validManifest = `maubot: 0.1.0
id: xyz.maubot.echo
version: 1.4.0
license: MIT
modules:
  - echo
main_class: echo/Plugin
extra_files:
  - base-config.yaml
config: true
webapp: true
`

func TestParse_Valid(t *testing.T) {
	m, err := Parse(strings.NewReader(validManifest))
	require.NoError(t, err)

	assert.Equal(t, "xyz.maubot.echo", m.ID)
	assert.Equal(t, "1.4.0", m.Version)
	assert.Equal(t, []string{"echo"}, m.Modules)
	assert.Equal(t, "Plugin", m.TypeName())
	assert.Equal(t, []string{"base-config.yaml"}, m.ExtraFiles)
	assert.True(t, m.Config)
	assert.True(t, m.WebApp)
	assert.False(t, m.Database)
	assert.Equal(t, "xyz.maubot.echo-v1.4.0.mbp", m.ArchiveName())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr []error
	}{
		{
			name:  "not yaml",
			input: "id: [",
		},
		{
			name:  "unknown field",
			input: validManifest + "colour: blue\n",
		},
		{
			name:    "empty",
			input:   "license: MIT\n",
			wantErr: []error{ErrMissingID, ErrMissingVersion, ErrMissingModules, ErrMissingMainClass},
		},
		{
			name:    "bad id and version",
			input:   "id: Echo\nversion: one\nmodules: [echo]\nmain_class: Plugin\n",
			wantErr: []error{ErrInvalidID, ErrInvalidVersion},
		},
		{
			name:    "bad host requirement",
			input:   "maubot: latest\nid: xyz.maubot.echo\nversion: 1.0.0\nmodules: [echo]\nmain_class: Plugin\n",
			wantErr: []error{ErrInvalidHostReq},
		},
		{
			name:    "extra file outside the plugin",
			input:   "id: xyz.maubot.echo\nversion: 1.0.0\nmodules: [echo]\nmain_class: Plugin\nextra_files: [../secrets.yaml]\n",
			wantErr: []error{ErrUnsafePath},
		},
		{
			name:    "absolute module",
			input:   "id: xyz.maubot.echo\nversion: 1.0.0\nmodules: [/etc/echo]\nmain_class: Plugin\n",
			wantErr: []error{ErrUnsafePath},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.ErrorIs(t, err, want)
			}
		})
	}
}

func TestLocalPath(t *testing.T) {
	assert.True(t, LocalPath("base-config.yaml"))
	assert.True(t, LocalPath("web/static/app.js"))
	assert.True(t, LocalPath("a/../b.txt"))

	assert.False(t, LocalPath(""))
	assert.False(t, LocalPath("../x"))
	assert.False(t, LocalPath("web/../../x"))
	assert.False(t, LocalPath("/etc/passwd"))
}

func TestSerialize_RoundTrip(t *testing.T) {
	m, err := Parse(strings.NewReader(validManifest))
	require.NoError(t, err)

	data, err := m.Serialize()
	require.NoError(t, err)

	again, err := Parse(strings.NewReader(string(data)))
	require.NoError(t, err)
	assert.Equal(t, m, again)
	assert.NotContains(t, string(data), "database", "false flags are omitted")
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadDir(dir)
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(validManifest), 0644))
	m, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, "xyz.maubot.echo", m.ID)
}

func TestSupportsHost(t *testing.T) {
	m := &Meta{MinHostVersion: "0.3.0"}
	assert.True(t, m.SupportsHost("0.3.0"))
	assert.True(t, m.SupportsHost("v1.0.0"))
	assert.False(t, m.SupportsHost("0.2.9"))

	assert.True(t, (&Meta{}).SupportsHost("0.0.1"))
}
