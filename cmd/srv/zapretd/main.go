package main

import (
	"context"
	"fmt"
	"os"

	"github.com/core-tools/hsu-zapret-go/pkg/daemon"
	"github.com/core-tools/hsu-zapret-go/pkg/logging"
	"github.com/core-tools/hsu-zapret-go/pkg/logging/zaplogging"

	"github.com/gin-gonic/gin"
	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Config      string `long:"config" short:"c" description:"Configuration file path (YAML), defaults are used when omitted"`
	Listen      string `long:"listen" description:"Control API listen address, overrides the configuration"`
	Autostart   string `long:"autostart" description:"Start the service in this mode once the daemon is up" choice:"general" choice:"general_alt" choice:"discord"`
	RunDuration int    `long:"run-duration" description:"Duration in seconds to run (debug feature)"`
	LogLevel    string `long:"log-level" description:"Log level, overrides the configuration" choice:"debug" choice:"info" choice:"warn" choice:"error"`
	Check       bool   `long:"check" description:"Validate the configuration and exit"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-server , ", module)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v", err)
		os.Exit(1)
	}

	cfg, err := daemon.LoadAndValidateConfig(opts.Config)
	if err != nil {
		fmt.Printf("Configuration error: %v\n", err)
		os.Exit(1)
	}
	if opts.Check {
		fmt.Println("Configuration is valid")
		return
	}

	zapOptions := cfg.Logging.ZapOptions()
	if opts.LogLevel != "" {
		zapOptions.Level = opts.LogLevel
	}
	zapLogger, err := zaplogging.New(zapOptions)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	// Create loggers
	logger := logging.NewLogger(logPrefix("zapret"), zaplogging.NewLogFuncs(zapLogger))

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Infof("Configuration: %s", configSource(opts.Config))

	err = daemon.Run(context.Background(), daemon.RunOptions{
		Config:      cfg,
		ConfigFile:  opts.Config,
		Listen:      opts.Listen,
		Autostart:   opts.Autostart,
		RunDuration: opts.RunDuration,
	}, logger)
	if err != nil {
		logger.Errorf("Failed to run: %v", err)
		zapLogger.Sync()
		os.Exit(1)
	}
}

func configSource(path string) string {
	if path == "" {
		return "defaults"
	}
	return path
}
