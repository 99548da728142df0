package hypervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/digitalocean/go-libvirt"
)

// Session is one live hypervisor connection plus the host facts discovered at
// startup. It is created once per process and passed to each manager.
type Session struct {
	client *Client

	// Arch is the host CPU architecture reported by the capability document.
	Arch string
	// DomainType is the preferred domain type for new guests (usually "kvm").
	DomainType string
	// Emulator is the resolved emulator binary path.
	Emulator string
	// ISOTool is the resolved ISO-mastering binary path.
	ISOTool string
}

// NewSession connects to libvirt and probes the host. Any failed probe is
// fatal: without an emulator or ISO tool nothing downstream can work.
func NewSession(ctx context.Context, socketPath string, timeout time.Duration) (*Session, error) {
	client, err := ConnectWithContext(ctx, socketPath, timeout)
	if err != nil {
		return nil, err
	}

	s, err := newSessionWithClient(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func newSessionWithClient(client *Client) (*Session, error) {
	if err := client.Ping(); err != nil {
		return nil, err
	}

	caps, err := QueryCapabilities(client.Libvirt())
	if err != nil {
		return nil, err
	}

	domainType, err := caps.PreferredDomainType()
	if err != nil {
		return nil, err
	}

	emulator, err := EmulatorPath()
	if err != nil {
		return nil, err
	}

	isoTool, err := ISOToolPath()
	if err != nil {
		return nil, err
	}

	return &Session{
		client:     client,
		Arch:       caps.Architecture(),
		DomainType: domainType,
		Emulator:   emulator,
		ISOTool:    isoTool,
	}, nil
}

// Libvirt returns the raw go-libvirt client for the managers to use.
func (s *Session) Libvirt() *libvirt.Libvirt {
	return s.client.Libvirt()
}

// Close tears down the libvirt connection.
func (s *Session) Close() error {
	if s.client == nil {
		return fmt.Errorf("session not connected")
	}
	return s.client.Close()
}
