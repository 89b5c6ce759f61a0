//go:build windows

package daemon

import "os"

// Windows has no SIGTERM; the QUIT request is the graceful path.
func terminate(p *os.Process) error { return p.Kill() }
