package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountModels(t *testing.T) {
	rows := CountModels([]string{"unet", "bogus", "camunet"})
	require.Len(t, rows, 3)

	assert.Equal(t, ParamCount{"unet", "segmentation", 1944049}, rows[0])
	assert.Equal(t, rows[0], rows[1])
	assert.Equal(t, ParamCount{"camunet", "segmentation,contour,marker", 3470643}, rows[2])
}

func TestParamsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.csv")

	c := NewCLI()
	c.SetArgs([]string{"params", "unet", "caunet", "--csv", path})
	require.NoError(t, c.Execute())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Model,Outputs,Parameters", lines[0])
	assert.Equal(t, "unet,segmentation,1944049", lines[1])
	assert.Equal(t, `caunet,"segmentation,contour",2707346`, lines[2])
}

func TestCheck(t *testing.T) {
	c := NewCLI()
	c.SetArgs([]string{"check", "caunet", "--size", "32", "--batch", "2"})
	assert.NoError(t, c.Execute())

	c = NewCLI()
	c.SetArgs([]string{"check", "dcan", "--size", "48"})
	assert.ErrorContains(t, c.Execute(), "not divisible by 32")
}

func TestPredict(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "cells.png")
	writePNG(t, src, 40, 36)

	out := filepath.Join(dir, "out")
	c := NewCLI()
	c.SetArgs([]string{"predict", src, "--model", "caunet", "--out", out, "--hist"})
	require.NoError(t, c.Execute())

	for _, name := range []string{"cells_segmentation.png", "cells_contour.png", "cells_segmentation_hist.png"} {
		_, err := os.Stat(filepath.Join(out, name))
		assert.NoError(t, err, name)
	}
}

func TestModels(t *testing.T) {
	c := NewCLI()
	c.SetArgs([]string{"models", "--env"})
	assert.NoError(t, c.Execute())
}

func TestDebugLogsConfig(t *testing.T) {
	t.Setenv("CELLSEG_DEBUG", "1")
	t.Setenv("CELLSEG_MODEL", "dcan")

	var stderr bytes.Buffer
	c := NewCLI()
	c.SetErr(&stderr)
	c.SetArgs([]string{"models"})
	require.NoError(t, c.Execute())

	assert.Contains(t, stderr.String(), "cellseg config")
	assert.Contains(t, stderr.String(), "CELLSEG_MODEL:dcan")
}
