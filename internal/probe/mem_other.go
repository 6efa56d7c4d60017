//go:build !linux

package probe

import "errors"

func availableMemory() (uint64, error) {
	return 0, errors.New("available memory not probed on this platform")
}
