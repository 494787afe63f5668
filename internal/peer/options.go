package peer

import (
	"log/slog"
	"time"

	"github.com/pion/webrtc/v3"
)

const (
	defaultNegotiationTimeout = 30 * time.Second
	defaultPingTimeout        = 5 * time.Second
)

// ConnOptions configures negotiations and the connections they produce.
// The zero value (and nil) is usable.
type ConnOptions struct {
	// Logger receives negotiation tracing and lifecycle events.
	// Defaults to slog.Default().
	Logger *slog.Logger

	// ICEServers lists STUN/TURN endpoints for candidate gathering, tried
	// in order. Used by the listener side; Dial takes servers explicitly.
	ICEServers []webrtc.ICEServer

	// NegotiationTimeout bounds one negotiation from start to a terminal
	// state. Defaults to 30s.
	NegotiationTimeout time.Duration

	// PingTimeout bounds one liveness probe. Defaults to 5s.
	PingTimeout time.Duration
}

// withDefaults returns a copy with unset fields filled in. Safe on nil.
func (o *ConnOptions) withDefaults() ConnOptions {
	var opts ConnOptions
	if o != nil {
		opts = *o
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NegotiationTimeout <= 0 {
		opts.NegotiationTimeout = defaultNegotiationTimeout
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = defaultPingTimeout
	}
	return opts
}
