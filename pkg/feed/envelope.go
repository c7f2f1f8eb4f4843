package feed

// Kind is the Envelope type.
type Kind byte

// Envelope kinds.
const (
	// Publication carries a payload for a channel.
	Publication Kind = iota
	// Shutdown is the poison pill stopping the broadcast worker.
	Shutdown
)

// Envelope is a unit of data flowing through the dispatch Queue. It's not
// modified once enqueued.
type Envelope struct {
	Kind    Kind
	Channel string
	Payload []byte
}

var shutdownEnvelope = Envelope{Kind: Shutdown}

// NewPublication returns an Envelope carrying a copy of payload for channel.
func NewPublication(channel string, payload []byte) Envelope {
	p := make([]byte, len(payload))
	copy(p, payload)
	return Envelope{
		Kind:    Publication,
		Channel: channel,
		Payload: p,
	}
}
