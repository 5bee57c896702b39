// Command docjobs-cli is the out-of-core operator tool for inspecting
// and retrying jobs in a service's namespace: list, print, retry.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ternarybob/docjobs/internal/common"
	"github.com/ternarybob/docjobs/internal/store"
)

type configPaths []string

func (c *configPaths) String() string { return fmt.Sprintf("%v", *c) }
func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles configPaths
	serviceName = flag.String("service", "", "Service namespace to operate on (overrides config)")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()
	args := flag.Args()

	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: docjobs-cli [-config file] [-service name] <list|print|retry> ...")
		os.Exit(1)
	}

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := common.SetupLogger(config)

	svc := *serviceName
	if svc == "" {
		svc = config.Environment
	}

	client := store.NewHTTPClient(store.Config{
		BaseURL:             config.Store.Domain,
		Token:               config.Store.Token,
		Timeout:             config.StoreTimeout(),
		WatchReconnectDelay: config.WatchReconnectDelay(),
	}, logger)

	ctx := context.Background()

	var cmdErr error
	switch args[0] {
	case "list":
		cmdErr = runList(ctx, client, svc, logger)
	case "print":
		if len(args) != 3 {
			fmt.Fprintln(os.Stderr, "usage: docjobs-cli print {pending|success|failure} <jobId>")
			os.Exit(1)
		}
		cmdErr = runPrint(ctx, client, svc, args[1], args[2], logger)
	case "retry":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: docjobs-cli retry <jobId>")
			os.Exit(1)
		}
		cmdErr = runRetry(ctx, client, svc, args[1], logger)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		os.Exit(1)
	}

	if cmdErr != nil {
		fmt.Fprintln(os.Stderr, cmdErr)
		logger.Error().Err(cmdErr).Str("command", args[0]).Msg("command failed")
		os.Exit(1)
	}
	os.Exit(0)
}
