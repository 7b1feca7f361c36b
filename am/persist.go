package am

import (
	"bytes"
	"os"
	"path/filepath"

	burnt "github.com/BurntSushi/toml"
	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/upilookup/errors"
)

// WriteDefaults writes the default configuration to path.
// Refuses to overwrite an existing file unless force is set.
func WriteDefaults(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return errors.WithHint(errors.Newf("config file already exists: %s", path),
			"pass --force to overwrite")
	}

	data, err := toml.Marshal(Default())
	if err != nil {
		return errors.Wrap(err, "failed to marshal default config")
	}

	if err := os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
		return errors.Wrapf(err, "failed to create %s", filepath.Dir(path))
	}
	if err := os.WriteFile(path, data, DefaultFilePermissions); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

// Render returns the effective configuration as TOML text.
func Render(cfg *Config) (string, error) {
	var buf bytes.Buffer
	if err := burnt.NewEncoder(&buf).Encode(cfg); err != nil {
		return "", errors.Wrap(err, "failed to encode config")
	}
	return buf.String(), nil
}
