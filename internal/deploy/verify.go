package deploy

import (
	"fmt"
	"strings"
)

// MissingProcesses returns the expected process names absent from a
// process-list output. Deployment is healthy only when the result is empty;
// any missing process fails the whole command.
func MissingProcesses(psOutput string, names []string) []string {
	var missing []string
	for _, name := range names {
		if !strings.Contains(psOutput, name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// verifyCmd renders the remote-side equivalent of MissingProcesses: one
// grep per expected process against the container list, failing on the
// first absent name.
func verifyCmd(names []string) string {
	checks := make([]string, 0, len(names))
	for _, name := range names {
		checks = append(checks, fmt.Sprintf("sudo docker ps | grep -q %s", name))
	}
	return strings.Join(checks, " && ")
}
