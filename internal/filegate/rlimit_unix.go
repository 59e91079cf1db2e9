//go:build unix

package filegate

import "golang.org/x/sys/unix"

// descriptorBudget reads the process's soft RLIMIT_NOFILE and returns
// it minus descriptorHeadroom, falling back to fallbackBudget if the
// limit cannot be read or is smaller than the headroom.
func descriptorBudget() int {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		return fallbackBudget
	}

	max := rlim.Cur
	if rlim.Max < max {
		max = rlim.Max
	}

	budget := int(max) - descriptorHeadroom
	if budget <= 0 {
		return fallbackBudget
	}
	return budget
}
