package envconfig

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVar(t *testing.T) {
	t.Setenv("CELLSEG_MODEL", ` "camunet" `)
	assert.Equal(t, "camunet", Var("CELLSEG_MODEL"))
	assert.Equal(t, "camunet", Model())
}

func TestModelDefault(t *testing.T) {
	t.Setenv("CELLSEG_MODEL", "")
	assert.Equal(t, "unet", Model())
}

func TestBool(t *testing.T) {
	cases := map[string]bool{
		"":      false,
		"1":     true,
		"true":  true,
		"0":     false,
		"false": false,
		"bogus": false,
	}

	for v, expect := range cases {
		t.Run(v, func(t *testing.T) {
			t.Setenv("CELLSEG_CUDA", v)
			assert.Equal(t, expect, Cuda())
		})
	}
}

func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"false": slog.LevelInfo,
		"0":     slog.LevelInfo,
		"1":     slog.LevelDebug,
		"true":  slog.LevelDebug,
		"2":     slog.Level(-8),
	}

	for v, expect := range cases {
		t.Run(v, func(t *testing.T) {
			t.Setenv("CELLSEG_DEBUG", v)
			assert.Equal(t, expect, LogLevel())
		})
	}
}

func TestValues(t *testing.T) {
	t.Setenv("CELLSEG_WEIGHTS", "/tmp/vgg16_bn.ot")
	vals := Values()
	assert.Equal(t, "/tmp/vgg16_bn.ot", vals["CELLSEG_WEIGHTS"])
	assert.Len(t, vals, 4)
}
