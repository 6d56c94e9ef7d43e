package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeTools(); err != nil {
		return err
	}
	if err := c.normalizeBuild(); err != nil {
		return err
	}
	c.normalizeRelease()
	c.normalizeNotify()
	c.normalizeLogging()
	c.Archive.Engine = strings.ToLower(strings.TrimSpace(c.Archive.Engine))
	if c.Archive.Engine == "" {
		c.Archive.Engine = EngineNative
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.OverrideDir, err = expandPath(strings.TrimSpace(c.Paths.OverrideDir)); err != nil {
		return fmt.Errorf("paths.override_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.BinariesDir) == "" {
		c.Paths.BinariesDir = defaultBinariesDir
	}
	if c.Paths.BinariesDir, err = expandPath(c.Paths.BinariesDir); err != nil {
		return fmt.Errorf("paths.binaries_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeTools() error {
	var err error
	if c.Tools.ToolDir, err = expandPath(strings.TrimSpace(c.Tools.ToolDir)); err != nil {
		return fmt.Errorf("tools.tool_dir: %w", err)
	}
	c.Tools.Paktool = strings.TrimSpace(c.Tools.Paktool)
	c.Tools.Sign = strings.TrimSpace(c.Tools.Sign)
	c.Tools.Hash = strings.TrimSpace(c.Tools.Hash)
	c.Tools.Flashbuild = strings.TrimSpace(c.Tools.Flashbuild)
	c.Tools.ECC = strings.TrimSpace(c.Tools.ECC)
	if c.Tools.TimeoutSeconds < 0 {
		c.Tools.TimeoutSeconds = 0
	}
	return nil
}

func (c *Config) normalizeBuild() error {
	var err error
	c.Build.ImageName = strings.TrimSpace(c.Build.ImageName)
	if c.Build.ImageName == "" {
		c.Build.ImageName = defaultImageName
	}
	if c.Build.Jobs <= 0 {
		c.Build.Jobs = runtime.NumCPU()
	}
	c.Build.TargetArch = strings.TrimSpace(c.Build.TargetArch)
	if c.Build.TargetArch == "" {
		if value, ok := os.LookupEnv("ECMD_ARCH"); ok && strings.TrimSpace(value) != "" {
			c.Build.TargetArch = strings.TrimSpace(value)
		} else {
			c.Build.TargetArch = hostArch()
		}
	}
	if c.Build.EKBRoot, err = expandPath(strings.TrimSpace(c.Build.EKBRoot)); err != nil {
		return fmt.Errorf("build.ekb_root: %w", err)
	}
	if c.Build.SBERoot, err = expandPath(strings.TrimSpace(c.Build.SBERoot)); err != nil {
		return fmt.Errorf("build.sbe_root: %w", err)
	}
	return nil
}

func (c *Config) normalizeRelease() {
	c.Release.URL = strings.TrimSpace(c.Release.URL)
	if c.Release.URL == "" {
		if value, ok := os.LookupEnv("IMGFORGE_RELEASE_URL"); ok {
			c.Release.URL = strings.TrimSpace(value)
		}
	}
	if c.Release.TimeoutSeconds <= 0 {
		c.Release.TimeoutSeconds = defaultReleaseTimeout
	}
}

func (c *Config) normalizeNotify() {
	c.Notify.NtfyTopic = strings.TrimSpace(c.Notify.NtfyTopic)
	if c.Notify.TimeoutSeconds <= 0 {
		c.Notify.TimeoutSeconds = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
