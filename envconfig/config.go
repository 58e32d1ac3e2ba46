package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Var returns an environment variable stripped of leading and trailing quotes or spaces.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// BoolWithDefault returns a getter for a boolean variable.
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				slog.Warn("invalid environment variable, using default", "key", k, "value", s, "default", defaultValue)
				return defaultValue
			}
			return b
		}
		return defaultValue
	}
}

// Bool returns a getter for a boolean variable that defaults to false.
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// String returns a getter for a string variable.
func String(k string, defaultValue string) func() string {
	return func() string {
		if s := Var(k); s != "" {
			return s
		}
		return defaultValue
	}
}

// LogLevel returns the log level for the application.
// Values are 0 or false (INFO, the default), 1 or true (DEBUG), or a negative
// multiple of 4 per extra level.
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("CELLSEG_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

var (
	// Cuda runs models on the first CUDA device when one is available.
	Cuda = Bool("CELLSEG_CUDA")
	// Weights is the path to a gotch `.ot` checkpoint loaded after model construction.
	Weights = String("CELLSEG_WEIGHTS", "")
	// Model is the model name used when none is given on the command line.
	Model = String("CELLSEG_MODEL", "unet")
)

// EnvVar describes one configuration variable.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap returns every configuration variable with its current value.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"CELLSEG_DEBUG":   {"CELLSEG_DEBUG", LogLevel(), "Show additional debug information (e.g. CELLSEG_DEBUG=1)"},
		"CELLSEG_CUDA":    {"CELLSEG_CUDA", Cuda(), "Run on CUDA when available"},
		"CELLSEG_WEIGHTS": {"CELLSEG_WEIGHTS", Weights(), "Checkpoint (.ot) to load into the model"},
		"CELLSEG_MODEL":   {"CELLSEG_MODEL", Model(), "Default model name"},
	}
}

// Values returns every configuration variable formatted as a string.
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprint(v.Value)
	}
	return vals
}
