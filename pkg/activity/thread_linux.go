//go:build linux

package activity

import "golang.org/x/sys/unix"

func currentThreadID() int {
	return unix.Gettid()
}
