package main

import (
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"

	"github.com/goftl/goftl/internal/flog"
)

// hostSnapshot reports the operator machine's CPU utilization and used
// memory at the moment of the call, the way ftlctl's bench and serve
// subcommands caption their flash-side numbers with host context.
func hostSnapshot() (cpuPercent float64, usedMem uint64) {
	pcts, err := cpu.Percent(0, false)
	if err != nil || len(pcts) == 0 {
		flog.Warnf("ftlctl: reading host CPU percent failed: %v", err)
	} else {
		cpuPercent = pcts[0]
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		flog.Warnf("ftlctl: reading host memory failed: %v", err)
		return cpuPercent, 0
	}
	return cpuPercent, vm.Used
}
