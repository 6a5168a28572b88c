package renderloop

// Rendezvous names the synchronous handshake a surface is in, if any.
// At most one is in flight per surface.
type Rendezvous uint8

const (
	Idle Rendezvous = iota
	RendezvousSync
	RendezvousRelease
	RendezvousGrab
	RendezvousObscure
)

func (r Rendezvous) String() string {
	switch r {
	case Idle:
		return "idle"
	case RendezvousSync:
		return "sync"
	case RendezvousRelease:
		return "release"
	case RendezvousGrab:
		return "grab"
	case RendezvousObscure:
		return "obscure"
	default:
		return "unknown"
	}
}
