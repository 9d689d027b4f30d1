package corehost

import (
	"golang.org/x/sys/unix"

	"github.com/minarch-dev/minarch/internal/logging"
)

// SysfsGovernor implements FrequencyController by writing a cpufreq
// scaling_governor name directly to the device's sysfs node, the way a
// handheld's performance-tier switch actually works under Linux.
type SysfsGovernor struct {
	Path string // e.g. /sys/devices/system/cpu/cpu0/cpufreq/scaling_governor
	log  *logging.Logger
}

// NewSysfsGovernor creates a SysfsGovernor targeting path.
func NewSysfsGovernor(path string, log *logging.Logger) *SysfsGovernor {
	if log == nil {
		log = logging.Default("corehost")
	}
	return &SysfsGovernor{Path: path, log: log}
}

func tierGovernorName(tier Tier) string {
	switch tier {
	case TierPowersave:
		return "powersave"
	case TierPerformance:
		return "performance"
	default:
		return "ondemand"
	}
}

// SetTier writes the cpufreq governor name for tier via a raw unix.Open
// /unix.Write/unix.Close sequence, since sysfs nodes reject the O_TRUNC
// semantics os.WriteFile applies by default on some kernels.
func (s *SysfsGovernor) SetTier(tier Tier) {
	name := tierGovernorName(tier)
	fd, err := unix.Open(s.Path, unix.O_WRONLY, 0)
	if err != nil {
		s.log.Warnf("cpufreq governor open %s: %v", s.Path, err)
		return
	}
	defer unix.Close(fd)

	if _, err := unix.Write(fd, []byte(name)); err != nil {
		s.log.Warnf("cpufreq governor write %s: %v", s.Path, err)
	}
}
