package main

import "github.com/alecthomas/kong"

// CLI defines the command-line interface.
type CLI struct {
	Run     RunCmd     `cmd:"" help:"Solve one problem in the terminal"`
	Serve   ServeCmd   `cmd:"" help:"Serve the HTTP and websocket API"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// RunCmd solves a problem interactively.
type RunCmd struct {
	Task     string `short:"t" help:"Problem statement (prompted for when empty)"`
	Config   string `short:"c" help:"Config file path"`
	MaxTurns int    `help:"Stop after this many conversation turns (0 = unbounded)" default:"-1"`
}

// ServeCmd runs the API server.
type ServeCmd struct {
	Config string `short:"c" help:"Config file path"`
	Port   int    `short:"p" help:"Listen port (overrides config)"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
