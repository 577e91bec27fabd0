package lifecycle

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dunedaq-go/ctbreadout/internal/telemetry"
)

// goodPart is always reported as zero: the upstream counter it
// mirrors is declared but never incremented on any path.
const goodPart = 0

// writeTriggerReport writes the per-run counter report: <dir>/run_<N>_triggers.txt
// with "Good Part", "Total HLT", and eight per-bit "HLT <i>" lines.
func writeTriggerReport(dir string, runNumber uint32, snap telemetry.Snapshot) error {
	path := filepath.Join(dir, fmt.Sprintf("run_%d_triggers.txt", runNumber))

	var out []byte
	out = append(out, fmt.Sprintf("Good Part\t %d\n", goodPart)...)
	out = append(out, fmt.Sprintf("Total HLT\t %d\n", snap.TotalHLT)...)
	for i := 0; i < 8; i++ {
		out = append(out, fmt.Sprintf("HLT %d \t %d\n", i, snap.HLTBits[i])...)
	}

	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("lifecycle: write trigger report %s: %w", path, err)
	}
	return nil
}
