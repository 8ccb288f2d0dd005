package ledger

import "time"

// Shelley-era slot arithmetic: one slot per second since the era start.
const slotsPerSecond = 1

// shelleyStart is the Shelley era start used as the slot-zero anchor.
var shelleyStart = time.Date(2020, time.July, 29, 0, 0, 0, 0, time.UTC)

// SlotForTime converts a wall-clock time to the corresponding absolute slot.
// Times before the era start map to slot zero.
func SlotForTime(t time.Time) uint64 {
	delta := t.Sub(shelleyStart)
	if delta < 0 {
		return 0
	}
	return uint64(delta.Seconds()) * slotsPerSecond
}
