package isotp

// Address is a fixed Normal-11-bit-addressing pair, the only addressing
// mode spec §4.2 calls for (no extended/mixed addressing, no 29-bit IDs —
// the target gateways are all classic 11-bit Normal addressing). The
// teacher's tp/address.go supports seven addressing modes; flashing one ECU
// at a time over a known tx/rx ID pair needs exactly one.
type Address struct {
	TxID uint32
	RxID uint32
}

// DefaultAddress is the tester-to-MSD80/81 pair spec §4.2 names.
var DefaultAddress = Address{TxID: 0x612, RxID: 0x613}

// FunctionalAddress is the OBD-II functional pair (0x7DF/0x7E8), grounded
// on the teacher's handling of the functional ID 0x7DF. Nothing in this
// module sends on it; TesterPresent goes over the session's own pair.
var FunctionalAddress = Address{TxID: 0x7DF, RxID: 0x7E8}
