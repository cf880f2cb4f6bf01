// Package mounts enforces filesystem isolation between agents.
package mounts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wardenhq/warden/internal/models"
)

// ErrIsolationViolation indicates a mount reaching into another agent's
// private partition.
var ErrIsolationViolation = errors.New("mount isolation violation")

// Partition subtrees under the shared root that are private per agent.
var partitions = []string{"tasks", "results", "knowledge"}

// Validate rejects any candidate mount whose host path falls inside
// another agent's tasks, results, or knowledge partition root.
// Containment is a path-prefix check against <root>/<partition>/<folder>/
// on cleaned paths, not a lexical name match, so exact and partial path
// overlaps are both caught. Relative host paths resolve against the
// shared root. Paths outside the partition subtrees are unrestricted.
func Validate(rootDir, selfFolder string, candidates []models.Mount, others []models.AgentDefinition) error {
	for _, mount := range candidates {
		host := mount.HostPath
		if !filepath.IsAbs(host) {
			host = filepath.Join(rootDir, host)
		}
		host = filepath.Clean(host)

		for _, other := range others {
			if other.Folder == selfFolder {
				continue
			}
			for _, partition := range partitions {
				partitionRoot := filepath.Join(rootDir, partition, other.Folder)
				if host == partitionRoot || strings.HasPrefix(host, partitionRoot+string(os.PathSeparator)) {
					return fmt.Errorf("%w: mount %q reaches into %s partition of agent %q",
						ErrIsolationViolation, mount.HostPath, partition, other.Folder)
				}
			}
		}
	}
	return nil
}
