package wrapper

import (
	"fmt"
)

// runCleanupMode sweeps stale wrapper logs left behind by dead processes.
func runCleanupMode() int {
	stats, err := cleanupOldLogs()
	fmt.Printf("Scanned: %d, Deleted: %d, Kept: %d, Errors: %d\n",
		stats.Scanned, stats.Deleted, stats.Kept, stats.Errors)
	for _, path := range stats.DeletedFiles {
		fmt.Println("  deleted: " + path)
	}
	if err != nil {
		fmt.Println("Completed with errors: " + err.Error())
		return 1
	}
	return 0
}
