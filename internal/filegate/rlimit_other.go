//go:build !unix

package filegate

// descriptorBudget falls back to a conservative fixed budget on
// platforms without POSIX rlimit support.
func descriptorBudget() int {
	return fallbackBudget
}
