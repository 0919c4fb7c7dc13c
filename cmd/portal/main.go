package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/five82/portal/internal/app"
)

var version = "dev"

const usage = `usage: portal [flags] [serve|watch]

  serve   run the web gateway (default)
  watch   open the terminal monitor

flags:
`

func main() {
	os.Exit(run())
}

func run() int {
	flags := flag.NewFlagSet("portal", flag.ContinueOnError)
	configPath := flags.String("config", "", "config file path (default ~/.config/portal/config.toml)")
	listen := flags.String("listen", "", "listen address for serve, overrides config and PORT")
	pollSeconds := flags.Int("poll", 0, "watch refresh interval in seconds (defaults to config, then 2s)")
	showVersion := flags.Bool("version", false, "print version and exit")
	flags.Usage = func() {
		fmt.Fprint(flags.Output(), usage)
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}
	if *showVersion {
		fmt.Println("portal", version)
		return 0
	}

	mode := "serve"
	if flags.NArg() > 0 {
		mode = flags.Arg(0)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := app.Options{
		ConfigPath: *configPath,
		Listen:     *listen,
		PollEvery:  *pollSeconds,
		Version:    version,
	}

	var err error
	switch mode {
	case "serve":
		err = app.Serve(ctx, opts)
	case "watch":
		err = app.Watch(ctx, opts)
	default:
		fmt.Fprintf(os.Stderr, "portal: unknown command %q\n", mode)
		flags.Usage()
		return 2
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "portal: %v\n", err)
		return 1
	}
	return 0
}
