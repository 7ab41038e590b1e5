package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/khanhnv2901/tlsinspect/internal/engine"
	consts "github.com/khanhnv2901/tlsinspect/internal/shared/constants"
	"github.com/khanhnv2901/tlsinspect/internal/shared/security"
)

// verdictFileName turns a target into a file name that is safe on every
// platform. IPv6 colons become underscores.
func verdictFileName(t engine.Target) string {
	host := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		}
		return '_'
	}, t.Hostname)
	host = strings.Trim(host, ".")
	if host == "" {
		host = "_"
	}
	return host + "_" + strconv.Itoa(t.Port) + ".json"
}

// resolveVerdictPath places the target's verdict file inside resultsDir.
func resolveVerdictPath(resultsDir string, t engine.Target) (string, error) {
	return security.ResolveWithin(resultsDir, verdictFileName(t))
}

func ensureResultsDir(resultsDir string) error {
	if resultsDir == "" {
		return fmt.Errorf("results directory is required")
	}
	if err := os.MkdirAll(resultsDir, consts.DefaultDirPerm); err != nil {
		return fmt.Errorf("create results directory: %w", err)
	}
	return nil
}
