package main

// Build metadata, overridden at link time via -ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = ""
)
