package config

const (
	defaultOutputDir      = "./image_output"
	defaultBinariesDir    = "~/.cache/imgforge/binaries"
	defaultStateDir       = "~/.local/share/imgforge"
	defaultLogDir         = "~/.local/share/imgforge/logs"
	defaultPaktool        = "paktool"
	defaultSignTool       = "signHashList"
	defaultHashTool       = "hashImage"
	defaultFlashbuild     = "flashbuild"
	defaultECCTool        = "ecc"
	defaultArchiveEngine  = "native"
	defaultImageName      = "image.bin"
	defaultReleaseTimeout = 600
	defaultNotifyTimeout  = 10
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
	EngineNative          = "native"
	EnginePaktool         = "paktool"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir:   defaultOutputDir,
			BinariesDir: defaultBinariesDir,
			StateDir:    defaultStateDir,
			LogDir:      defaultLogDir,
		},
		Tools: Tools{
			Paktool:    defaultPaktool,
			Sign:       defaultSignTool,
			Hash:       defaultHashTool,
			Flashbuild: defaultFlashbuild,
			ECC:        defaultECCTool,
		},
		Archive: Archive{
			Engine: defaultArchiveEngine,
		},
		Build: Build{
			ImageName: defaultImageName,
		},
		Release: Release{
			TimeoutSeconds: defaultReleaseTimeout,
		},
		Notify: Notify{
			TimeoutSeconds: defaultNotifyTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
