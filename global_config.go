package daq

import (
	"log"
	"os"
	"time"
)

// BuildInfo can contain compile-time information about the build
type BuildInfo struct {
	Version string
	Githash string
	Date    string
	Summary string
	Host    string
}

// Build is a global holding compile-time information about the build
var Build = BuildInfo{
	Version: "1.0.0",
	Githash: "no git hash computed",
	Date:    "no build date computed",
}

// StartTime is a global holding the time init() was run
var StartTime time.Time

// ProblemLogger logs warnings and verbose acquisition chatter, to stderr
// unless the main program redirects it to a rotating file.
var ProblemLogger *log.Logger

func init() {
	StartTime = time.Now()
	ProblemLogger = log.New(os.Stderr, "", log.LstdFlags)
}
