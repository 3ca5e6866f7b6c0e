/*
Package session implements session management and persistence orchestration.

It serializes turns of the same session across goroutines and, with a
distributed locker, across replicas. Process loads or starts the session,
runs the turn and writes the result back, keeping the session locked until
the write lands so a following turn never reads a stale record.
*/
package session
