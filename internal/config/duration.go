package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from a YAML string using
// Go's usual "30s"/"5m"/"1h" duration syntax (spec.md §6 "durations use
// humantime"). yaml.v3 has no built-in string-to-duration conversion, so
// every duration-bearing field in Config is typed as Duration rather than
// time.Duration directly.
type Duration time.Duration

// UnmarshalYAML accepts either a bare duration string or an integer
// (interpreted as nanoseconds, for config files generated programmatically).
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("config: invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("config: duration must be a string like \"30s\" or an integer nanosecond count")
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML renders the duration back in Go's canonical string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}
