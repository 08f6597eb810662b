//go:build !windows

package doctor

import "os/exec"

// resetTerminal undoes raw mode a previous TUI session may have left behind.
func resetTerminal() {
	exec.Command("stty", "sane").Run()
}
