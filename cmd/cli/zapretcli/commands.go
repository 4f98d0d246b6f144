package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/core-tools/hsu-zapret-go/pkg/connectivity"
	"github.com/core-tools/hsu-zapret-go/pkg/control"
	"github.com/core-tools/hsu-zapret-go/pkg/errors"
	"github.com/core-tools/hsu-zapret-go/pkg/events"

	flags "github.com/jessevdk/go-flags"
)

func addCommands(parser *flags.Parser) {
	parser.AddCommand("status", "Show service status", "Show the installation, run state and last operation", &statusCommand{})
	parser.AddCommand("start", "Start the service", "Start the bypass service in the given mode", &startCommand{})
	parser.AddCommand("stop", "Stop the service", "Stop the bypass service", &stopCommand{})
	parser.AddCommand("update", "Update ipset lists", "Run the update entry point", &updateCommand{})
	parser.AddCommand("config", "Apply configuration", "Write the ipset mode and game filter into the external config file", &configCommand{})
	parser.AddCommand("probe", "Probe connectivity", "Check whether targets are reachable, all of them when no target is given", &probeCommand{})
	parser.AddCommand("events", "Follow events", "Print log and state events until interrupted", &eventsCommand{})
}

func newClient() *control.Client {
	logger.Debugf("Using control API at %s", options.Server)
	return control.NewClient(options.Server, options.Timeout)
}

type statusCommand struct{}

func (c *statusCommand) Execute(args []string) error {
	ctx, cancel := interruptContext()
	defer cancel()

	status, err := newClient().Status(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Installation: %s\n", status.Installation)
	fmt.Printf("Running:      %t (%s)\n", status.Running, status.State)
	fmt.Printf("Busy:         %t\n", status.Busy)
	if last := status.LastOperation; last != nil {
		result := "ok"
		if !last.Success {
			result = "failed: " + last.Error
		}
		fmt.Printf("Last:         %s at %s, %s\n", last.Operation, last.FinishedAt.Format(time.RFC3339), result)
	}
	return nil
}

type startCommand struct {
	Mode string `long:"mode" short:"m" description:"Start mode" choice:"general" choice:"general_alt" choice:"discord" default:"general"`
}

func (c *startCommand) Execute(args []string) error {
	ctx, cancel := interruptContext()
	defer cancel()

	resp, err := newClient().Start(ctx, c.Mode)
	return reportOperation("start", resp, err)
}

type stopCommand struct{}

func (c *stopCommand) Execute(args []string) error {
	ctx, cancel := interruptContext()
	defer cancel()

	resp, err := newClient().Stop(ctx)
	return reportOperation("stop", resp, err)
}

type updateCommand struct{}

func (c *updateCommand) Execute(args []string) error {
	ctx, cancel := interruptContext()
	defer cancel()

	resp, err := newClient().Update(ctx)
	return reportOperation("update", resp, err)
}

type configCommand struct {
	Ipset      string `long:"ipset" description:"IPSET mode" choice:"none" choice:"loaded" choice:"any" default:"loaded"`
	GameFilter bool   `long:"game-filter" description:"Enable the game filter"`
}

func (c *configCommand) Execute(args []string) error {
	ctx, cancel := interruptContext()
	defer cancel()

	resp, err := newClient().ApplyConfig(ctx, c.Ipset, c.GameFilter)
	if err := reportOperation("config", resp, err); err != nil {
		return err
	}
	fmt.Println("A restart of the service may be required to apply the change")
	return nil
}

type probeCommand struct {
	Local bool `long:"local" description:"Probe from this machine instead of through zapretd"`
	Args  struct {
		Target string `positional-arg-name:"target"`
	} `positional-args:"yes"`
}

func (c *probeCommand) Execute(args []string) error {
	ctx, cancel := interruptContext()
	defer cancel()

	var results []*connectivity.ProbeResult
	if c.Local {
		prober, err := connectivity.NewProber(connectivity.DefaultOptions(), logger)
		if err != nil {
			return err
		}
		if c.Args.Target != "" {
			results = []*connectivity.ProbeResult{prober.Test(ctx, c.Args.Target)}
		} else {
			results = prober.TestAll(ctx)
		}
	} else {
		client := newClient()
		if c.Args.Target != "" {
			result, err := client.Probe(ctx, c.Args.Target)
			if err != nil {
				return err
			}
			results = []*connectivity.ProbeResult{result}
		} else {
			all, err := client.ProbeAll(ctx)
			if err != nil {
				return err
			}
			results = all
		}
	}

	failed := 0
	for _, result := range results {
		fmt.Println(result.Summary())
		if !result.Success {
			failed++
		}
	}
	if failed > 0 {
		return errors.NewNetworkError(fmt.Sprintf("%d of %d probes failed", failed, len(results)), nil)
	}
	return nil
}

type eventsCommand struct{}

func (c *eventsCommand) Execute(args []string) error {
	ctx, cancel := interruptContext()
	defer cancel()

	return newClient().Events(ctx, func(name string, data []byte) {
		switch name {
		case control.EventLog:
			var e events.LogEvent
			if err := json.Unmarshal(data, &e); err != nil {
				logger.Warnf("Malformed log event: %v", err)
				return
			}
			fmt.Printf("%s %-5s %-7s %s\n", e.Time.Format("15:04:05"), strings.ToUpper(string(e.Level)), e.Source, e.Message)
		case control.EventState:
			var e events.StateEvent
			if err := json.Unmarshal(data, &e); err != nil {
				logger.Warnf("Malformed state event: %v", err)
				return
			}
			fmt.Printf("%s STATE running=%t\n", e.Time.Format("15:04:05"), e.Running)
		case control.EventStatus:
			fmt.Printf("Connected: %s\n", data)
		}
	})
}

func reportOperation(operation string, resp *control.OperationResponse, err error) error {
	if err != nil {
		return err
	}
	if !resp.OK {
		if resp.Rejected {
			fmt.Printf("%s rejected: %s\n", operation, resp.Error)
		}
		return errors.NewProcessError(fmt.Sprintf("%s failed", operation), nil).WithContext("reason", resp.Error)
	}
	fmt.Printf("%s succeeded, running: %t\n", operation, resp.Running)
	return nil
}
