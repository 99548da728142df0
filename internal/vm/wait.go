package vm

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/netip"
	"strings"
	"time"
)

const (
	reachableBackoff = time.Second
	bannerDeadline   = 2 * time.Second
)

// sshPort is a var so tests can point the probe at an ephemeral listener.
var sshPort = "22"

// WaitReachable polls the guest's SSH port until a server banner shows up,
// the timeout elapses or the context is cancelled. A refused or silent port
// is retried; anything that answers without an SSH banner keeps the wait
// going too.
func WaitReachable(ctx context.Context, addr netip.Addr, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := net.JoinHostPort(addr.String(), sshPort)
	dialer := &net.Dialer{}

	for {
		if sshBannerAt(ctx, dialer, target) {
			log.Printf("SSH is up at %s", target)
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s not reachable: %w", addr, ctx.Err())
		case <-time.After(reachableBackoff):
		}
	}
}

func sshBannerAt(ctx context.Context, dialer *net.Dialer, target string) bool {
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return false
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(bannerDeadline)); err != nil {
		return false
	}
	banner := make([]byte, 3)
	if _, err := io.ReadFull(conn, banner); err != nil {
		return false
	}
	return strings.HasPrefix(string(banner), "SSH")
}
