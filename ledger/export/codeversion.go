package export

import (
	"os/exec"
	"strings"
)

// GitCodeVersion shells out to git rev-parse --short HEAD, restored from
// the upstream _get_code_version() helper, for use as a CodeVersionFunc.
func GitCodeVersion() (string, error) {
	out, err := exec.Command("git", "rev-parse", "--short", "HEAD").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
