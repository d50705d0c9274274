package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/drone/envsubst"
	"github.com/go-kit/log/level"
	"github.com/prometheus/common/version"
	"gopkg.in/yaml.v2"

	"github.com/open-edge-platform/scene-tracker/cmd/scene-tracker/app"
	"github.com/open-edge-platform/scene-tracker/pkg/util/log"
)

const (
	configFileOption      = "config.file"
	configExpandEnvOption = "config.expand-env"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.InitLogger(cfg.LogFormat, cfg.LogLevel)

	a, err := app.New(*cfg, logger)
	if err != nil {
		level.Error(logger).Log("msg", "failed to initialize", "err", err)
		os.Exit(1)
	}

	if err := a.Run(); err != nil {
		level.Error(logger).Log("msg", "exited with error", "err", err)
		os.Exit(1)
	}
}

func loadConfig() (*app.Config, error) {
	var (
		configFile      string
		configExpandEnv bool
		printVersion    bool
	)

	// first pass picks up only the config file options so the file can be
	// loaded before the full flag set is applied on top of it
	args := os.Args[1:]
	fs := flag.NewFlagSet("", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&configFile, configFileOption, "", "")
	fs.BoolVar(&configExpandEnv, configExpandEnvOption, false, "")
	for len(args) > 0 {
		_ = fs.Parse(args)
		args = args[1:]
	}

	cfg := &app.Config{}
	cfg.RegisterFlagsAndApplyDefaults(flag.CommandLine)
	flag.StringVar(&configFile, configFileOption, configFile, "Configuration file to load.")
	flag.BoolVar(&configExpandEnv, configExpandEnvOption, configExpandEnv, "Expand ${VAR} references in the config file from the environment.")
	flag.BoolVar(&printVersion, "version", false, "Print version and exit.")

	if configFile != "" {
		buff, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
		if configExpandEnv {
			expanded, err := envsubst.EvalEnv(string(buff))
			if err != nil {
				return nil, fmt.Errorf("failed to expand env vars in config file %s: %w", configFile, err)
			}
			buff = []byte(expanded)
		}
		if err := yaml.UnmarshalStrict(buff, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configFile, err)
		}
	}

	// precedence, lowest to highest: defaults, config file, TRACKER_* env
	// variables, command-line flags
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	flag.Parse()

	if printVersion {
		fmt.Println(version.Print("scene-tracker"))
		os.Exit(0)
	}

	return cfg, nil
}
