// Package hypervisor manages the libvirt connection and discovers what the
// host is capable of: guest architecture, the preferred (accelerated) domain
// type, and the emulator and ISO-mastering binaries available on the machine.
package hypervisor
