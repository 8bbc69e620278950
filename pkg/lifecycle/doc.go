// Package lifecycle provides the state machines and reconnect backoff
// shared by link clients and servers.
//
// # Usage
//
// Create a machine over one of the transition tables:
//
//	m := lifecycle.NewMachine(lifecycle.ClientTransitions, logger, emitter)
//
//	if err := m.TransitionTo(lifecycle.StateConnecting, "start"); err != nil {
//	    return err
//	}
//
//	m.AddWorker()
//	go func() {
//	    defer m.WorkerDone()
//	    // ... receive loop ...
//	}()
//
//	// Graceful shutdown
//	m.Cancel()
//	if err := m.WaitWithTimeout(lifecycle.ShutdownTimeout); err != nil {
//	    return err
//	}
//
// Reconnect delays come from a Backoff:
//
//	b := lifecycle.NewBackoff(time.Second, 10*time.Second)
//	delay := b.Next() // 1s, 2s, 4s, 8s, 10s, 10s, ...
//	b.Reset()         // after a successful connect
//
// # State Machine
//
// Client transitions:
//   - Idle -> Connecting
//   - Connecting -> Connected, Backoff
//   - Connected -> Ending
//   - Ending -> Backoff
//   - Backoff -> Connecting
//   - any -> Stopped, Stopped -> Connecting
//
// Server transitions:
//   - Idle, Stopped -> Starting
//   - Starting -> Running, Stopped
//   - Running -> Stopping
//   - Stopping -> Stopped
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
//
// See version.go for version constants that can be used programmatically.
package lifecycle
