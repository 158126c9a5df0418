//go:build windows

package main

import (
	"github.com/kataras/golog"
	"golang.org/x/sys/windows"
)

// raisePriority lifts the process priority class so capture pacing stays
// stable while the encoder loads the machine.
func raisePriority() {
	if err := windows.SetPriorityClass(windows.CurrentProcess(), windows.ABOVE_NORMAL_PRIORITY_CLASS); err != nil {
		golog.Debugf("priority class not raised: %v", err)
	}
}
