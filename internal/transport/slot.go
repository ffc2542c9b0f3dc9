package transport

import "github.com/joshuafuller/ipadapter/internal/endpoint"

// Slot names one of the eight sockets of the table.
type Slot int

const (
	SlotU6 Slot = iota
	SlotU6S
	SlotU4
	SlotU4S
	SlotM6
	SlotM6S
	SlotM4
	SlotM4S

	slotCount
)

var slotNames = [slotCount]string{"u6", "u6s", "u4", "u4s", "m6", "m6s", "m4", "m4s"}

// Slots returns every slot in table order.
func Slots() []Slot {
	out := make([]Slot, 0, slotCount)
	for s := SlotU6; s < slotCount; s++ {
		out = append(out, s)
	}
	return out
}

func (s Slot) String() string {
	if s < 0 || s >= slotCount {
		return "invalid"
	}
	return slotNames[s]
}

// Family returns the slot's address family.
func (s Slot) Family() endpoint.Family {
	switch s {
	case SlotU4, SlotU4S, SlotM4, SlotM4S:
		return endpoint.FamilyIPv4
	default:
		return endpoint.FamilyIPv6
	}
}

// IsSecure reports whether the slot carries DTLS records.
func (s Slot) IsSecure() bool {
	return s == SlotU6S || s == SlotU4S || s == SlotM6S || s == SlotM4S
}

// IsMulticast reports whether the slot is bound to a fixed CoAP port and
// receives group traffic.
func (s Slot) IsMulticast() bool {
	return s >= SlotM6 && s < slotCount
}

// Flags returns the endpoint flags stamped on datagrams read from the slot.
func (s Slot) Flags() endpoint.Flags {
	f := s.Family().Flag()
	if s.IsSecure() {
		f |= endpoint.Secure
	}
	if s.IsMulticast() {
		f |= endpoint.Multicast
	}
	return f
}

// Pair returns the plain/secure sibling of the slot.
func (s Slot) Pair() Slot {
	if s.IsSecure() {
		return s - 1
	}
	return s + 1
}

// SlotFor selects the slot for a family and security/multicast combination.
func SlotFor(family endpoint.Family, secure, multicast bool) Slot {
	var s Slot
	switch {
	case family == endpoint.FamilyIPv6 && !multicast:
		s = SlotU6
	case family == endpoint.FamilyIPv4 && !multicast:
		s = SlotU4
	case family == endpoint.FamilyIPv6:
		s = SlotM6
	default:
		s = SlotM4
	}
	if secure {
		s++
	}
	return s
}
