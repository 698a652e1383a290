package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/msgcore/internal/config"
	"github.com/matheus3301/msgcore/internal/daemon"
	"github.com/matheus3301/msgcore/internal/profile"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	userFlag := flag.String("user", os.Getenv("MSGCORE_USER"), "id of the signed-in user")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *userFlag == "" {
		fmt.Fprintln(os.Stderr, "error: --user is required")
		os.Exit(1)
	}

	cfg, err := config.LoadOrDefault(profile.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// No remote transport is linked into this binary yet; the daemon
	// serves the local store and queues every change until one is.
	app := fx.New(
		daemon.Module(daemon.Params{
			Profile: profileName,
			UserID:  *userFlag,
			Config:  cfg,
		}),
	)

	app.Run()
}
