// Command tictactoe starts the tic-tac-toe game server.
//
// It supports two modes:
//  1. "server" (default) runs the HTTP server exposing the REST API, the
//     WebSocket hub, Prometheus metrics and an /mcp HTTP endpoint
//  2. "stdio-mcp" runs an MCP stdio server, proxying to an external API
//     when one answers and to an internal one otherwise
//
// Configuration comes from the environment (and an optional .env file);
// flags override it. Ngrok tunneling is available for easy external access
// during development.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/wricardo/mcp-training/tictactoe/game/config"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Tic-Tac-Toe Server"
)

func main() {
	if err := newRootCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
		os.Exit(1)
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:           "tictactoe",
		Usage:          AppName,
		Version:        Version,
		DefaultCommand: "server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "dotenv file to load before reading the environment"},
			&cli.StringFlag{Name: "host", Usage: "HTTP server host (HOST)"},
			&cli.IntFlag{Name: "port", Usage: "HTTP server port (PORT)"},
			&cli.BoolFlag{Name: "debug", Usage: "Enable debug logging (DEBUG)"},
			&cli.StringFlag{Name: "store", Usage: "Session backend: memory, file or redis (STORE_BACKEND)"},
			&cli.StringFlag{Name: "sessions-dir", Usage: "Directory for the file backend (STORE_SESSIONS_DIR)"},
			&cli.StringFlag{Name: "redis-addr", Usage: "Redis address for the redis backend (REDIS_ADDR)"},
			&cli.StringFlag{Name: "api-url", Usage: "REST API the stdio MCP server proxies to (API_URL)"},
			&cli.BoolFlag{Name: "ngrok", Usage: "Enable ngrok tunnel (NGROK_ENABLED)"},
			&cli.StringFlag{Name: "ngrok-auth", Usage: "Ngrok auth token (NGROK_AUTHTOKEN)"},
			&cli.StringFlag{Name: "ngrok-domain", Usage: "Custom ngrok domain (NGROK_DOMAIN)"},
		},
		Commands: []*cli.Command{
			{
				Name:    "server",
				Aliases: []string{"http"},
				Usage:   "Run HTTP server with API, WebSocket, metrics and MCP endpoint",
				Action:  runServerCommand,
			},
			{
				Name:    "stdio-mcp",
				Aliases: []string{"mcp-stdio", "mcp"},
				Usage:   "Run MCP stdio server",
				Action:  runStdioCommand,
			},
		},
	}
}

// loadConfig reads the environment, then applies flags that were set.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("env-file"))
	if err != nil {
		return nil, err
	}

	if cmd.IsSet("host") {
		cfg.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Port = cmd.Int("port")
	}
	if cmd.IsSet("debug") {
		cfg.Debug = cmd.Bool("debug")
	}
	if cmd.IsSet("store") {
		cfg.Store.Backend = cmd.String("store")
	}
	if cmd.IsSet("sessions-dir") {
		cfg.Store.SessionsDir = cmd.String("sessions-dir")
	}
	if cmd.IsSet("redis-addr") {
		cfg.Redis.Addr = cmd.String("redis-addr")
	}
	if cmd.IsSet("api-url") {
		cfg.APIURL = cmd.String("api-url")
	}
	if cmd.IsSet("ngrok") {
		cfg.Ngrok.Enabled = cmd.Bool("ngrok")
	}
	if cmd.IsSet("ngrok-auth") {
		cfg.Ngrok.AuthToken = cmd.String("ngrok-auth")
	}
	if cmd.IsSet("ngrok-domain") {
		cfg.Ngrok.Domain = cmd.String("ngrok-domain")
	}
	if cfg.Debug {
		cfg.Log.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServerCommand(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return runHTTPServer(ctx, cfg)
}

func runStdioCommand(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return runStdioMCP(ctx, cfg)
}
