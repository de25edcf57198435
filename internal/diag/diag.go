// Package diag reports host facts once at startup so upload throughput or
// stalls can be read against the machine they happened on.
package diag

import (
	"runtime"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// LogStartup emits a one-time host snapshot. Failures to read any metric are
// non-fatal; the field is simply omitted.
func LogStartup(log zerolog.Logger) {
	ev := log.Info().
		Str("os", runtime.GOOS).
		Str("arch", runtime.GOARCH)

	if vm, err := mem.VirtualMemory(); err == nil {
		ev = ev.Uint64("mem_total", vm.Total).Float64("mem_used_pct", vm.UsedPercent)
	}
	if n, err := cpu.Counts(true); err == nil {
		ev = ev.Int("cpus", n)
	}
	if info, err := host.Info(); err == nil {
		ev = ev.Str("hostname", info.Hostname).Str("platform", info.Platform)
	}

	ev.Msg("host snapshot")
}
