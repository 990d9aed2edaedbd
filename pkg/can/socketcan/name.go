package socketcan

import (
	"errors"
	"fmt"
)

// IFNAMSIZ, including the terminating null byte
const ifNameSize = 16

var ErrInterfaceName = errors.New("invalid interface name")

// ValidateInterfaceName checks the name fits in a kernel ifreq.
func ValidateInterfaceName(name string) error {
	if len(name) == 0 || len(name) >= ifNameSize {
		return fmt.Errorf("%w : %q", ErrInterfaceName, name)
	}
	return nil
}
