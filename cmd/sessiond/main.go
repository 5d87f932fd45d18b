// Command sessiond serves login, logout and session-protected endpoints
// on top of the goSession engine.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/MrEthical07/goSession/cmd/internal/app"
)

func main() {
	configPath := flag.String("config", os.Getenv("GOSESSION_CONFIG"), "path to a TOML config file")
	envFile := flag.String("env-file", ".env", "dotenv file to load; missing files are ignored")
	flag.Parse()

	if err := app.Run(*configPath, *envFile); err != nil {
		fmt.Fprintln(os.Stderr, "sessiond:", err)
		os.Exit(1)
	}
}
