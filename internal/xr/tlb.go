package xr

// TLB models one software-managed translation buffer (I-TB or D-TB),
// grounded on XrLookupItb/XrLookupDtb in xr17032fast.c. Entries are kept as
// the full 64-bit (tag<<32|pte) composite the original uses, split across
// Tag/PTE for clarity.
type TLB struct {
	Entries []TLBEntry
	Index   uint32 // ITBINDEX/DTBINDEX: next slot refilled by a PTE write

	lastVpn    uint32
	lastResult TLBEntry
	lastValid  bool
}

func NewTLB(size int) *TLB {
	t := &TLB{Entries: make([]TLBEntry, size), Index: tbReservedCount}
	for i := range t.Entries {
		t.Entries[i] = TLBEntry{Tag: InvalidTag}
	}
	return t
}

// Lookup searches all entries for a VPN (and ASID-or-global) match,
// regardless of the Valid bit — matching xr17032fast.c's XrLookupItb/Dtb,
// which lets an entry "match, but be invalid" and fall through to a page
// fault rather than a second TB miss. matchTag is (ASID<<20)|VPN built from
// the CPU's current *TBTAG control register merged with the new VPN.
func (t *TLB) Lookup(matchTag uint32) (TLBEntry, bool) {
	for _, e := range t.Entries {
		mask := uint32(0xFFFFFFFF)
		if e.global() {
			mask = tlbVpnMask
		}
		if e.Tag&mask == matchTag&mask {
			return e, true
		}
	}
	return TLBEntry{}, false
}

// LastResult returns the single-entry "last lookup" cache for vpn, if valid.
func (t *TLB) LastResult(vpn uint32) (TLBEntry, bool) {
	if t.lastValid && t.lastVpn == vpn {
		return t.lastResult, true
	}
	return TLBEntry{}, false
}

func (t *TLB) SetLastResult(vpn uint32, e TLBEntry) {
	t.lastVpn = vpn
	t.lastResult = e
	t.lastValid = true
}

func (t *TLB) ResetLastResult() { t.lastValid = false }

// Refill writes tag<<32|pte at Index and auto-increments, wrapping back to
// the first non-reserved slot (spec.md §6.1, "Writes to ITBPTE/DTBPTE").
func (t *TLB) Refill(tag, pte uint32) {
	t.Entries[t.Index] = TLBEntry{Tag: tag, PTE: pte}
	t.Index++
	if int(t.Index) == len(t.Entries) {
		t.Index = tbReservedCount
	}
}

// Invalidate applies one of the four ITBCTRL/DTBCTRL selectors (spec.md §4.3).
func (t *TLB) Invalidate(selector uint32, vpn uint32) {
	switch selector & 3 {
	case tbInvalidateOne:
		for i := range t.Entries {
			if t.Entries[i].Tag&tlbVpnMask == vpn {
				t.Entries[i] = TLBEntry{Tag: InvalidTag}
			}
		}
	case tbInvalidateAllNonReserved:
		for i := tbReservedCount; i < len(t.Entries); i++ {
			t.Entries[i] = TLBEntry{Tag: InvalidTag}
		}
	case tbInvalidateAllNonGlobal:
		for i := tbReservedCount; i < len(t.Entries); i++ {
			if !t.Entries[i].global() {
				t.Entries[i] = TLBEntry{Tag: InvalidTag}
			}
		}
	case tbInvalidateAll:
		for i := range t.Entries {
			t.Entries[i] = TLBEntry{Tag: InvalidTag}
		}
	}
	t.ResetLastResult()
}
