package dataset

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// HwInfo describes the hardware of the builder host that produced (or will
// produce) a build. Parsed from the lscpu log that build farms attach to
// their task output.
type HwInfo struct {
	CPUModelName string  `json:"cpu_model_name"`
	CPUArch      string  `json:"cpu_arch"`
	CPUCores     int     `json:"cpu_cores"`
	CPUThreads   int     `json:"cpu_threads"`
	CPUMHz       float64 `json:"cpu_mhz"`
	RAMMB        int64   `json:"ram_mb"`
	SwapMB       int64   `json:"swap_mb"`
}

// BuildRecord is one build observation: the metadata known before a build
// starts plus, for historical records, the observed duration. Records are
// treated as immutable once constructed.
type BuildRecord struct {
	PackageName string   `json:"package_name"`
	Version     string   `json:"version"`
	OS          string   `json:"os"`
	OSVersion   string   `json:"os_version"`
	Arch        string   `json:"arch"`
	MockChroot  string   `json:"mock_chroot,omitempty"`
	Deps        []string `json:"deps,omitempty"`
	EpochSecs   int64    `json:"epoch,omitempty"`
	HwInfo      *HwInfo  `json:"hw_info,omitempty"`

	// DurationSecs is the observed wall-clock build time. Zero for
	// not-yet-built records arriving through the prediction API.
	DurationSecs int64 `json:"build_duration,omitempty"`
}

// Historical reports whether the record carries an observed duration and can
// therefore be used as a training example.
func (r BuildRecord) Historical() bool {
	return r.DurationSecs > 0
}

// Duration returns the observed build time as a time.Duration.
func (r BuildRecord) Duration() time.Duration {
	return time.Duration(r.DurationSecs) * time.Second
}

// ParseChroot splits a mock chroot identifier like "fedora-42-x86_64" into
// os, os version and architecture.
func ParseChroot(chroot string) (osName, osVersion, arch string, err error) {
	parts := strings.Split(chroot, "-")
	if len(parts) < 3 {
		return "", "", "", fmt.Errorf("malformed chroot %q", chroot)
	}
	arch = parts[len(parts)-1]
	osVersion = parts[len(parts)-2]
	osName = strings.Join(parts[:len(parts)-2], "-")
	if osName == "" || arch == "" {
		return "", "", "", fmt.Errorf("malformed chroot %q", chroot)
	}
	return osName, osVersion, arch, nil
}

// ParseLscpu extracts hardware information from the output of lscpu as found
// in build-farm hw_info logs. Unknown lines are skipped; missing fields keep
// their zero values.
func ParseLscpu(log string) HwInfo {
	var hw HwInfo
	sc := bufio.NewScanner(strings.NewReader(log))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Model name":
			hw.CPUModelName = value
		case "Architecture":
			hw.CPUArch = value
		case "Core(s) per socket":
			cores, _ := strconv.Atoi(value)
			hw.CPUCores = cores
		case "CPU(s)":
			threads, _ := strconv.Atoi(value)
			hw.CPUThreads = threads
		case "CPU MHz", "CPU max MHz":
			mhz, _ := strconv.ParseFloat(value, 64)
			if hw.CPUMHz == 0 {
				hw.CPUMHz = mhz
			}
		case "Mem":
			hw.RAMMB = parseMemMB(value)
		case "Swap":
			hw.SwapMB = parseMemMB(value)
		}
	}
	return hw
}

func parseMemMB(value string) int64 {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return 0
	}
	n, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
