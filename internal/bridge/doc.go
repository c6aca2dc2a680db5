// Package bridge boots a program with the persisted token and persists every
// token the program emits afterwards.
//
// The bootstrap sequence is:
//
//	Loading: load the program (the only suspension point)
//	         read the token key from the store
//	         locate the mount node and Init the program with the token as flags
//	Running: subscribe to the program's setToken port and write each value back
//
// Write failures are swallowed. The program keeps its in-memory token and the
// next successful write replaces the stale persisted value.
package bridge
