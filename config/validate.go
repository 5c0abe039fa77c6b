package config

import "fmt"

// ValidateRuntimeLimits checks the runtime mempool/block limits before they
// are wired into the Mempool and Producer.
func ValidateRuntimeLimits(g RuntimeLimits) error {
	if g.Mempool.AdmissionsPerSecond <= 0 {
		return fmt.Errorf("mempool: admissions_per_second <= 0")
	}
	if g.Mempool.AdmissionBurst <= 0 {
		return fmt.Errorf("mempool: admission_burst <= 0")
	}
	if g.Blocks.BatchSize <= 0 {
		return fmt.Errorf("blocks: batch_size <= 0")
	}
	return nil
}
