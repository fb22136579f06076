package main

import "time"

// Flag structs decouple cobra from command logic for testing.

// GlobalFlags are persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	RuntimeDir string
	LogLevel   string
	LogFormat  string
}

type StartFlags struct {
	NoBrowser     bool
	Lock          bool
	ReadyInterval time.Duration
	ReadyAttempts int
}

type StopFlags struct {
	Interval time.Duration
	Attempts int
}

type StatusFlags struct {
	Usage bool // sample CPU and memory of the running server
}

type ServeFlags struct {
	Root string
	Addr string
}
