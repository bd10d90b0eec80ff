/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/framecore/engine"
	"github.com/spaghettifunk/framecore/engine/core"
	"github.com/spaghettifunk/framecore/testbed"
)

func main() {
	headless := flag.Bool("headless", false, "run on the software device without a window")
	frames := flag.Uint64("frames", 0, "stop after this many frames (0 runs until quit)")
	configPath := flag.String("config", "framecore.toml", "settings file")
	flag.Parse()

	tb := testbed.NewTestGame(*headless, *frames, *configPath)

	e, err := engine.New(tb.Game)
	if err != nil {
		os.Exit(1)
	}

	if err := e.Initialize(); err != nil {
		_ = e.Shutdown()
		os.Exit(1)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	go func() {
		// capture sigterm and other system call here
		sig := <-sigCh
		core.LogInfo("received %s, stopping", sig)
		e.Stop()
	}()

	runErr := e.Run()
	if err := e.Shutdown(); err != nil || runErr != nil {
		os.Exit(1)
	}
}
