package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTools(); err != nil {
		return err
	}
	if err := c.validateArchive(); err != nil {
		return err
	}
	if err := c.validateBuild(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateTools() error {
	required := []struct {
		key   string
		value string
	}{
		{"tools.sign", c.Tools.Sign},
		{"tools.hash", c.Tools.Hash},
		{"tools.flashbuild", c.Tools.Flashbuild},
		{"tools.ecc", c.Tools.ECC},
	}
	for _, item := range required {
		if strings.TrimSpace(item.value) == "" {
			return fmt.Errorf("%s must be set", item.key)
		}
	}
	return nil
}

func (c *Config) validateArchive() error {
	switch c.Archive.Engine {
	case EngineNative:
		return nil
	case EnginePaktool:
		if strings.TrimSpace(c.Tools.Paktool) == "" {
			return errors.New("tools.paktool must be set when archive.engine is paktool")
		}
		return nil
	default:
		return fmt.Errorf("archive.engine: unsupported value %q (want native or paktool)", c.Archive.Engine)
	}
}

func (c *Config) validateBuild() error {
	if strings.ContainsAny(c.Build.ImageName, `/\`) {
		return errors.New("build.image_name must be a file name, not a path")
	}
	if c.Build.Jobs <= 0 {
		return errors.New("build.jobs must be positive")
	}
	return nil
}
