//go:build !linux && !windows

package activity

func currentThreadID() int {
	return 0
}
