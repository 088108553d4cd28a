package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

func (r *Root) configShow() error {
	cfgPath := os.Getenv("PIXGRID_CONFIG")
	if cfgPath == "" {
		cfgPath = "(default) ~/.config/pixgrid/config.json"
	}
	fmt.Fprintf(r.out, "# Config file: %s\n", cfgPath)

	enc := yaml.NewEncoder(r.out)
	enc.SetIndent(2)
	if err := enc.Encode(r.cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
