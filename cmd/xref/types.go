package main

import "github.com/jward/xref"

// CLIResult is the top-level JSON envelope for all commands.
type CLIResult struct {
	Command   string `json:"command"`
	Results   any    `json:"results,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// CLIStats is the result of the stats command.
type CLIStats struct {
	Root        string              `json:"root"`
	Index       xref.Stats          `json:"index"`
	Registry    *xref.RegistryStats `json:"registry,omitempty"`
	Resolutions int                 `json:"cross_project_resolutions"`
}
