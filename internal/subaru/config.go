package subaru

import (
	"bufio"
	"os"
	"strings"
)

// Config struct
type Config struct {
	Values          map[string]string
	DefaultStrip    bool
	DefaultFakeroot bool
}

// Load /etc/subaru.conf and apply defaults
func loadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	// Attempt to read the file
	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, err
		}
	}

	// Merge SUBARU_* env overrides
	mergeEnvOverrides(cfg)

	return cfg, nil
}

// Merge SUBARU_* env overrides
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "SUBARU_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				cfg.Values[parts[0]] = parts[1]
			}
		}
	}
}

func initConfig(cfg *Config) {
	Debug = cfg.Values["SUBARU_DEBUG"] == "1"

	cfg.DefaultStrip = true
	if cfg.Values["SUBARU_STRIP"] == "0" {
		cfg.DefaultStrip = false
	}

	// Fakeroot is the default for unprivileged builds; root gets a real
	// identity and does not need the emulation layer.
	cfg.DefaultFakeroot = os.Geteuid() != 0
	if cfg.Values["SUBARU_FAKEROOT"] == "0" {
		cfg.DefaultFakeroot = false
	}
}
