//go:build !linux

package inventory

func rootDevice() (string, bool) {
	return "", false
}
