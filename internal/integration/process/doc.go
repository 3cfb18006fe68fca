// Package process supervises the debugger child process.
//
// A Supervisor launches children with piped standard streams, tracks them
// until they exit and stops any that remain on shutdown:
//
//	sup := process.NewSupervisor(process.WithGracePeriod(time.Second))
//	defer sup.Shutdown()
//
//	proc, err := sup.Launch(process.Spec{Name: "lldb", Path: "lldb", Args: []string{"--no-lldbinit"}})
//	if err != nil {
//		return err
//	}
//	<-proc.Done()
//
// Stopping a process first closes its stdin, then sends SIGTERM and
// finally SIGKILL, waiting for the grace period between steps.
package process
