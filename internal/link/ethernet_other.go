//go:build !linux

package link

import "errors"

func openEthernet(name string, snapLen int) (frameHandle, error) {
	return nil, errors.New("raw Ethernet sockets are supported on linux only")
}
