package engine

import (
	"fmt"
	"math/rand"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/sys/unix"
)

// ResolveCores turns a --bind-cpu spec ("all", "random", or a comma
// separated list of core indices) into the concrete set of logical CPU
// indices the Runner should pin workers to.
func ResolveCores(spec string) ([]int, error) {
	max, err := logicalCPUCount()
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate CPU cores: %v", ErrConfiguration, err)
	}
	if max <= 0 {
		return nil, fmt.Errorf("%w: no CPU cores reported by the host", ErrConfiguration)
	}

	switch strings.ToLower(strings.TrimSpace(spec)) {
	case "all":
		cores := make([]int, max)
		for i := range cores {
			cores[i] = i
		}
		return cores, nil
	case "random", "":
		return []int{rand.Intn(max)}, nil
	default:
		return parseCoreList(spec, max)
	}
}

func parseCoreList(spec string, max int) ([]int, error) {
	parts := strings.Split(spec, ",")
	cores := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		idx, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid --bind-cpu core index %q", ErrConfiguration, p)
		}
		if idx < 0 || idx >= max {
			return nil, fmt.Errorf("%w: --bind-cpu core index %d out of range [0,%d)", ErrConfiguration, idx, max)
		}
		cores = append(cores, idx)
	}
	if len(cores) == 0 {
		return nil, fmt.Errorf("%w: --bind-cpu resolved to zero cores", ErrConfiguration)
	}
	return cores, nil
}

func logicalCPUCount() (int, error) {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return runtime.NumCPU(), nil
	}
	return n, nil
}

// PinCurrentThread locks the calling goroutine to its current OS thread and
// restricts that thread's scheduling affinity to the given logical core.
// Must be called from the goroutine that will run the worker's loop, since
// affinity is a per-OS-thread property and LockOSThread binds the calling
// goroutine to whichever thread it is currently on.
func PinCurrentThread(core int) error {
	runtime.LockOSThread()

	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("%w: pin worker to core %d: %v", ErrConfiguration, core, err)
	}
	return nil
}
