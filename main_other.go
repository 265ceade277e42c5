//go:build !linux

package main

import (
	"runtime"

	"golang.design/x/hotkey/mainthread"
)

func init() {
	runtime.LockOSThread()
}

// The system hotkey APIs on macOS and Windows must be driven from the
// main thread, so run() moves to a goroutine and the main thread serves
// mainthread.Call.
func main() {
	mainthread.Init(run)
}
