package config

import "flag"

// CLIFlags holds command-line overrides. Nil pointers mean the flag was
// not supplied; CLI values win over both YAML and ENV.
type CLIFlags struct {
	ConfigPath  *string
	Port        *string
	LogLevel    *string
	StorageRoot *string
}

// ParseFlags parses command-line arguments into CLIFlags. Unknown flags
// are an error.
func ParseFlags(args []string) (CLIFlags, error) {
	fs := flag.NewFlagSet("planvault", flag.ContinueOnError)

	configPath := fs.String("config", "", "path to YAML config file")
	fs.StringVar(configPath, "c", "", "path to YAML config file (shorthand)")
	port := fs.String("port", "", "HTTP server port")
	fs.StringVar(port, "p", "", "HTTP server port (shorthand)")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	storageRoot := fs.String("storage-root", "", "base directory for plan data")

	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, err
	}

	var flags CLIFlags
	if *configPath != "" {
		flags.ConfigPath = configPath
	}
	if *port != "" {
		flags.Port = port
	}
	if *logLevel != "" {
		flags.LogLevel = logLevel
	}
	if *storageRoot != "" {
		flags.StorageRoot = storageRoot
	}
	return flags, nil
}

// LoadWithCLI loads configuration with the full hierarchy:
// defaults < YAML < ENV < CLI. It returns the resolved config file path.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if flags.ConfigPath != nil {
		path = *flags.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, "", err
	}
	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, "", err
	}
	return &cfg, path, nil
}

func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.Port != nil {
		cfg.Server.Port = *flags.Port
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.StorageRoot != nil {
		cfg.Storage.Root = *flags.StorageRoot
	}
}
