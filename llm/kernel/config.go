package kernel

import "time"

// Config configures a geometry kernel backend.
type Config struct {
	// HTTP kernel
	BaseURL string `yaml:"base_url" json:"base_url"`
	Path    string `yaml:"path" json:"path"`

	// OpenSCAD kernel
	Binary  string   `yaml:"binary" json:"binary"`
	Args    []string `yaml:"args" json:"args"`
	Env     []string `yaml:"env" json:"-"`
	WorkDir string   `yaml:"work_dir" json:"work_dir"`

	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8100",
		Path:    "/render",
		Binary:  "openscad",
		Timeout: 90 * time.Second,
	}
}
