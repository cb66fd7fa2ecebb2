//go:build linux

package inventory

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// rootDevice returns the major:minor of the filesystem mounted at "/".
func rootDevice() (string, bool) {
	var st unix.Stat_t
	if err := unix.Stat("/", &st); err != nil {
		return "", false
	}
	dev := uint64(st.Dev)
	return fmt.Sprintf("%d:%d", unix.Major(dev), unix.Minor(dev)), true
}
