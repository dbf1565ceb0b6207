package wire

// PacketType is the EPACKET_TYPE attribute (§6). Values collide between the
// pubsub channel and the peer channel by design — disambiguation is purely
// by which channel a frame arrived on (see DESIGN.md's open-question
// resolution), never by branching on the type byte alone.
type PacketType uint8

const (
	// On the pubsub channel.
	PacketSubscribe   PacketType = 0
	PacketPublish     PacketType = 1
	PacketUnsubscribe PacketType = 2
	PacketLeaving     PacketType = 3

	// On the peer (clarification) channel.
	PacketReply PacketType = 0
	PacketAsk   PacketType = 1
)

// Attrs carries the packet attributes the spec assigns every frame:
// ERECEIVER (the sink this frame concerns), EPACKET_TYPE, EFRAGMENTS (the
// fragment count) and HOPS (the sender's advertised cost to the sink).
//
// Sink is a subnet-level concept and is independent of the Disclose-level
// unicast receiver (ports.Frame.Receiver): the original stack's broadcast()
// helper stamps the low-level receiver with the sender's own address (so
// every neighbour's Hear fires, never its Recv) while Sink still names the
// subscription's destination several hops away.
type Attrs struct {
	Sink      Addr
	Type      PacketType
	Fragments int
	Hops      int
}
