package internal

import (
	"os"
	"os/exec"
)

// UnbreakDocker attaches the current container to the default bridge network
// so tests running inside a dev container can reach containers started by
// testcontainers. Errors are ignored; outside docker this is a no-op.
func UnbreakDocker() {
	if hostname, err := os.Hostname(); err == nil {
		exec.Command("docker", "network", "connect", "bridge", hostname).Run()
	}
}
