// ABOUTME: Help display for the quorum CLI with grouped flags, examples, and environment status.
// ABOUTME: Provides printHelp for usage output and envStatus for API key detection.
package main

import (
	"fmt"
	"io"
	"os"
)

// printHelp writes a formatted help message to w: usage patterns, grouped
// flags, examples, and which API keys are visible in the environment.
func printHelp(w io.Writer, ver string) {
	fmt.Fprintf(w, "quorum %s — multi-agent answer coordination\n", ver)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  quorum [flags] <config.yaml> <question...>   Run a coordination session")
	fmt.Fprintln(w, "  quorum -watch <status.json>                  Watch a running session")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -watch <path>      Watch an existing session's status.json in a terminal UI")
	fmt.Fprintln(w, "  -serve             Serve status.json over HTTP while the session runs")
	fmt.Fprintln(w, "  -port <n>          Status server port (default 2389)")
	fmt.Fprintln(w, "  -log-dir <path>    Directory for status.json and the final answer")
	fmt.Fprintln(w, "  -event-log <path>  SQLite file to persist the coordination event stream")
	fmt.Fprintln(w, "  -verbose           Stream every agent's output, not just the final presentation")
	fmt.Fprintln(w, "  -version           Print version and exit")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  quorum agents.yaml \"What is the best sorting algorithm here?\"")
	fmt.Fprintln(w, "  quorum -serve -port 8080 agents.yaml \"Summarize this design\"")
	fmt.Fprintln(w, "  quorum -watch /tmp/quorum/<session>/status.json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintf(w, "  ANTHROPIC_API_KEY  %s\n", envStatus("ANTHROPIC_API_KEY"))
	fmt.Fprintf(w, "  OPENAI_API_KEY     %s\n", envStatus("OPENAI_API_KEY"))
	fmt.Fprintf(w, "  GEMINI_API_KEY     %s\n", envStatus("GEMINI_API_KEY"))
}

// envStatus reports whether an API key is visible in the environment.
func envStatus(key string) string {
	if os.Getenv(key) != "" {
		return "set"
	}
	return "not set"
}
