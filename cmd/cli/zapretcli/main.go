package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/core-tools/hsu-zapret-go/pkg/logging"
	"github.com/core-tools/hsu-zapret-go/pkg/logging/zaplogging"

	flags "github.com/jessevdk/go-flags"
)

type globalOptions struct {
	Server  string        `long:"server" short:"s" description:"Control API address of zapretd" default:"127.0.0.1:8765"`
	Timeout time.Duration `long:"timeout" description:"Request timeout" default:"60s"`
	Verbose bool          `long:"verbose" short:"v" description:"Enable debug logging"`
}

var options globalOptions

var logger logging.Logger = logging.NewNullLogger()

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-client , ", module)
}

func main() {
	var parser = flags.NewParser(&options, flags.HelpFlag|flags.PassDoubleDash)
	parser.CommandHandler = func(command flags.Commander, args []string) error {
		level := "warn"
		if options.Verbose {
			level = "debug"
		}
		zapLogger, err := zaplogging.New(zaplogging.Options{Level: level, Development: true})
		if err != nil {
			return err
		}
		defer zapLogger.Sync()
		logger = logging.NewLogger(logPrefix("zapret"), zaplogging.NewLogFuncs(zapLogger))

		if command == nil {
			return nil
		}
		return command.Execute(args)
	}

	addCommands(parser)

	if _, err := parser.ParseArgs(os.Args[1:]); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			fmt.Println(err)
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// interruptContext is cancelled on Ctrl+C
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}
