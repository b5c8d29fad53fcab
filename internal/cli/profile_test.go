package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestProfileCmd_Table(t *testing.T) {
	stdout, _, err := execute(t, "profile", "--stages", "10s:10,10s:0", "--step", "5s")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0], "ELAPSED")
	assert.Contains(t, lines[0], "VUS")
	assert.Contains(t, stdout, "ramp-up")
	assert.Contains(t, stdout, "max 10 VUs over 20s")
}

func TestProfileCmd_JSON(t *testing.T) {
	stdout, _, err := execute(t, "profile", "--stages", "10s:10,10s:0", "--step", "5s", "--json")
	require.NoError(t, err)

	points := gjson.Parse(stdout).Array()
	require.Len(t, points, 5)
	assert.Equal(t, int64(0), points[0].Get("target").Int())
	assert.Equal(t, int64(5), points[1].Get("target").Int())
	assert.Equal(t, int64(10), points[2].Get("target").Int())
	assert.Equal(t, int64(0), points[4].Get("target").Int())
	assert.Equal(t, "ramp-up", points[1].Get("phase").String())
}

func TestProfileCmd_DefaultStages(t *testing.T) {
	stdout, _, err := execute(t, "profile", "--step", "1m")
	require.NoError(t, err)
	assert.Contains(t, stdout, "max 50 VUs over 4m0s")
}

func TestProfileCmd_RejectsNonRamping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "constant.yaml")
	require.NoError(t, os.WriteFile(path, []byte("executor: constant-vus\nvus: 5\nduration: 30s\n"), 0o644))

	_, _, err := execute(t, "profile", "-c", path)
	assert.ErrorContains(t, err, "ramping-vus")
}
