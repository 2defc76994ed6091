package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/nicolaiprodromov/outlier-wormhole/internal/config"
	"github.com/nicolaiprodromov/outlier-wormhole/internal/logx"
	"github.com/nicolaiprodromov/outlier-wormhole/internal/sender"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	var cfg config.SendConfig
	cfg.BindFlags()
	flag.Usage = func() {
		out := flag.CommandLine.Output()
		_, _ = fmt.Fprintf(out, "wormhole-send version=%s sha=%s date=%s\n\n", version, buildSHA, buildDate)
		_, _ = fmt.Fprintf(out, "usage: wormhole-send [flags] <command> [json-params]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if *showVersion {
		fmt.Printf("wormhole-send version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}
	logx.Configure(cfg.LogLevel)
	os.Exit(run(cfg, flag.Args()))
}

func run(cfg config.SendConfig, args []string) int {
	if len(args) < 1 || len(args) > 2 {
		flag.Usage()
		return 2
	}
	var params json.RawMessage
	if len(args) == 2 {
		if !json.Valid([]byte(args[1])) {
			fmt.Fprintf(os.Stderr, "invalid JSON params: %s\n", args[1])
			return 2
		}
		params = json.RawMessage(args[1])
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	resp, err := sender.Send(ctx, cfg.ControllerURL, args[0], params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if !resp.Success {
		fmt.Fprintf(os.Stderr, "error: %s\n", resp.Error)
		return 1
	}
	fmt.Println(string(resp.Result))
	return 0
}
