package shared

import (
	"strings"

	"github.com/armonia-contable/armonia/internal/ledger"
)

// Capabilities granted by the upstream identity provider.
const (
	CapApprove = "vouchers.approve"
	CapClose   = "periods.close"
)

// Capabilities lists every capability understood by the service.
func Capabilities() []string {
	return []string{CapApprove, CapClose}
}

// ActorWithCapabilities builds an actor from a comma separated capability list.
func ActorWithCapabilities(id int64, capabilities string) ledger.Actor {
	actor := ledger.Actor{ID: id}
	for _, capability := range strings.Split(capabilities, ",") {
		switch strings.TrimSpace(capability) {
		case CapApprove:
			actor.CanApprove = true
		case CapClose:
			actor.CanClose = true
		}
	}
	return actor
}
