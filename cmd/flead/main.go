package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/openflea/fleachat/internal/app"
	"github.com/openflea/fleachat/internal/config"
	"go.uber.org/fx"
)

// flead runs a session in the foreground: it keeps the broker connection
// up, mirrors confirmed activity into the offline cache, and exits on
// SIGINT/SIGTERM.
func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	flag.Parse()

	sessionName := config.ResolveSession(*sessionFlag)
	if err := config.ValidateSessionName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot load config: %v\n", err)
		fmt.Fprintf(os.Stderr, "expected config at %s\n", config.ConfigPath())
		os.Exit(1)
	}

	fx.New(
		app.Module(app.Params{SessionName: sessionName, Config: cfg}),
	).Run()
}
