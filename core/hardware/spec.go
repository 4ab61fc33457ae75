// Package hardware captures the ComputerSpec a peer announces.
package hardware

import (
	"os"
	"runtime"

	"github.com/pyropy/renderfarm/core/model"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Capture reads the local machine's spec. Probes that fail leave their field
// at a runtime derived fallback. gpu is passed through since there is no
// portable probe for it.
func Capture(gpu string) model.ComputerSpec {
	spec := model.ComputerSpec{
		OS:    runtime.GOOS,
		Arch:  runtime.GOARCH,
		GPU:   gpu,
		Cores: runtime.NumCPU(),
	}

	if info, err := host.Info(); err == nil {
		spec.Host = info.Hostname
		if info.Platform != "" {
			spec.OS = info.Platform + " " + info.PlatformVersion
		}
		if info.KernelArch != "" {
			spec.Arch = info.KernelArch
		}
	} else if name, err := os.Hostname(); err == nil {
		spec.Host = name
	}

	if vMem, err := mem.VirtualMemory(); err == nil {
		spec.Memory = vMem.Total
	}

	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		spec.CPU = infos[0].ModelName
	}

	if cores, err := cpu.Counts(true); err == nil && cores > 0 {
		spec.Cores = cores
	}

	return spec
}
