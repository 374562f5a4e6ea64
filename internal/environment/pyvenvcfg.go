package environment

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// readPyvenvCfg parses a pyvenv.cfg file's `key = value` lines, tolerating
// the mix of spacing real pyvenv.cfg writers (venv, virtualenv, uv) use.
func readPyvenvCfg(path string) (PyvenvConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return PyvenvConfig{}, err
	}
	defer f.Close()

	var cfg PyvenvConfig
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "home":
			cfg.Home = value
		case "version", "version_info":
			cfg.Version = value
		case "prompt":
			cfg.Prompt = value
		case "include-system-site-packages":
			cfg.IncludeSystemSitePackages, _ = strconv.ParseBool(value)
		case "extends-environment":
			cfg.ExtendsEnvironment = value
		}
	}
	if err := scanner.Err(); err != nil {
		return PyvenvConfig{}, err
	}
	return cfg, nil
}

func writePyvenvCfg(path string, cfg PyvenvConfig) error {
	var b strings.Builder
	fmt.Fprintf(&b, "home = %s\n", cfg.Home)
	fmt.Fprintf(&b, "version = %s\n", cfg.Version)
	if cfg.Prompt != "" {
		fmt.Fprintf(&b, "prompt = %s\n", cfg.Prompt)
	}
	fmt.Fprintf(&b, "include-system-site-packages = %s\n", boolString(cfg.IncludeSystemSitePackages))
	if cfg.ExtendsEnvironment != "" {
		fmt.Fprintf(&b, "extends-environment = %s\n", cfg.ExtendsEnvironment)
	}
	return os.WriteFile(path, []byte(b.String()), 0o666)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
