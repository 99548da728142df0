package hypervisor

import (
	"errors"

	"github.com/digitalocean/go-libvirt"
)

// HasErrorCode reports whether err carries the given libvirt error code.
//
// Lookup misses are a signal to create the resource, but only for the exact
// "not found" code of that resource type; any other code must be surfaced
// unmodified. Callers use this to tell the two apart.
func HasErrorCode(err error, code libvirt.ErrorNumber) bool {
	var lverr libvirt.Error
	if errors.As(err, &lverr) {
		return lverr.Code == uint32(code)
	}
	return false
}
