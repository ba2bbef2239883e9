// Package process supervises the external mesh stack daemon when meshgate
// is configured to own it.
//
// The daemon runs in its own process group with its output relayed to the
// log. When it exits unexpectedly it is restarted after an exponentially
// growing, jittered delay; a run that outlasts StableThreshold resets the
// delay and the attempt counter. A binary that is missing or not executable
// is never retried.
//
//	mgr := process.NewManager(process.DefaultConfig("stackd", "/usr/sbin/stackd", args))
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process
