package nexus

import (
	"context"
	"errors"

	"github.com/nexusfleet/nexuscore/pkg/blockdevice"
	"github.com/nexusfleet/nexuscore/pkg/coreerr"
)

// ErrInvalidKey is returned when a reservation key is not the required
// 16-byte NVMe format.
var ErrInvalidKey = errors.New("invalid reservation key")

// ErrAlreadyShared is returned when Share is called with a different
// protocol than the one currently active.
var ErrAlreadyShared = errors.New("nexus already shared on a different protocol")

// Share exports the nexus over protocol, deriving the advertised URI from
// the first Open child's device. On first share with a 16-byte key it
// records the key on the nexus and subscribes every open child to
// reservation-conflict events; no reservation-register or -acquire command
// is sent to the children, and the controller ID range is not used.
func (n *Nexus) Share(ctx context.Context, protocol blockdevice.Protocol, key []byte) (string, error) {
	if key != nil && len(key) != 16 {
		return "", coreerr.InvalidArgument("Share", "nexus", n.id.String(), ErrInvalidKey)
	}

	n.shareMu.Lock()
	if n.protocol != blockdevice.ProtocolOff && n.protocol != protocol {
		n.shareMu.Unlock()
		return "", coreerr.StateConflict("Share", "nexus", n.id.String(), ErrAlreadyShared)
	}
	alreadyShared := n.protocol == protocol && n.shareURI != ""
	n.shareMu.Unlock()

	children := n.Children()
	var uri string
	for _, c := range children {
		h := c.Handle()
		if h == nil {
			continue
		}
		u, err := h.Share(ctx, protocol, blockdevice.ShareProps{Key: key})
		if err != nil {
			return "", coreerr.New("Share", "nexus-child", c.URI(), coreerr.ErrIoError, err)
		}
		if uri == "" {
			uri = u
		}
	}
	if uri == "" {
		return "", coreerr.StateConflict("Share", "nexus", n.id.String(), errors.New("no open children to share"))
	}

	n.shareMu.Lock()
	n.protocol = protocol
	n.shareURI = uri
	n.shareMu.Unlock()

	if !alreadyShared && len(key) == 16 {
		n.mu.Lock()
		n.reservedKey = key
		n.mu.Unlock()
		n.registerReservations(ctx, children, key)
	}

	return uri, nil
}

// Unshare reverses Share across every child.
func (n *Nexus) Unshare(ctx context.Context) error {
	n.shareMu.Lock()
	n.protocol = blockdevice.ProtocolOff
	n.shareURI = ""
	n.shareMu.Unlock()

	for _, c := range n.Children() {
		if h := c.Handle(); h != nil {
			_ = h.Unshare(ctx)
		}
	}
	return nil
}

// ShareURI returns the currently advertised share URI, or "" if unshared.
func (n *Nexus) ShareURI() string {
	n.shareMu.Lock()
	defer n.shareMu.Unlock()
	return n.shareURI
}

// registerReservations subscribes every open child to its device's event
// stream (BlockDevice's EventSink contract); a reservation-conflict event on
// a child faults it with reason ReservationConflict. It sends no NVMe
// reservation command and ignores the key.
func (n *Nexus) registerReservations(_ context.Context, children []*Child, _ []byte) {
	for _, c := range children {
		h := c.Handle()
		if h == nil {
			continue
		}
		child := c
		h.Subscribe(reservationSink{child: child})
	}
}

type reservationSink struct{ child *Child }

func (s reservationSink) OnDeviceEvent(ev blockdevice.Event) {
	if ev.Kind == blockdevice.EventReservationConflict {
		s.child.Fault(FaultReservationConflict)
	}
}
