package main

import (
	"github.com/pkg/profile"
)

const profileModes = "cpu,mem,block,mutex,goroutine,trace"

var profiles = map[string]func(*profile.Profile){
	"cpu":       profile.CPUProfile,
	"mem":       profile.MemProfile,
	"block":     profile.BlockProfile,
	"mutex":     profile.MutexProfile,
	"goroutine": profile.GoroutineProfile,
	"trace":     profile.TraceProfile,
}

type noProfile struct{}

func (noProfile) Stop() {}

// startProfile starts the named profile in the working directory. An empty
// mode disables profiling.
func startProfile(mode string) interface{ Stop() } {
	fn, ok := profiles[mode]
	if !ok {
		return noProfile{}
	}
	return profile.Start(fn, profile.ProfilePath("."), profile.NoShutdownHook)
}
