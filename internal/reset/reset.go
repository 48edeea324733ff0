// Package reset holds the literal register recipes for silencing and
// resetting SID chips (spec §4.7). Implementers are told to reproduce
// these exactly; nothing here is derived or approximated.
package reset

import "github.com/sidrelay/sidrelay/internal/sidwrite"

const (
	minCycleSidWrite        = 8
	timeForAdsrToStabilize  = 0x9c40
	timeBetweenTestBitFlip  = 0x32
)

// silenceTargets is the fixed set of registers zeroed to stop every
// voice and the filter without touching anything else (spec §4.6/§4.7).
var silenceTargets = [15]uint8{
	0x01, 0x00, 0x08, 0x07, 0x0f, 0x0e,
	0x04, 0x05, 0x06,
	0x0b, 0x0c, 0x0d,
	0x12, 0x13, 0x14,
}

// resetRegs is RESET_REGS from spec §4.7.
var resetRegs = [19]uint8{
	0x02, 0x03, 0x04, 0x05, 0x06,
	0x09, 0x0a, 0x0b, 0x0c, 0x0d,
	0x10, 0x11, 0x12, 0x13, 0x14,
	0x15, 0x16, 0x17, 0x19,
}

func push(writes []sidwrite.Write, baseReg, reg, data uint8, cycles uint16) []sidwrite.Write {
	return append(writes, sidwrite.Write{Reg: baseReg + reg, Data: data, Cycles: sidwrite.ClampCycles(cycles, minCycleSidWrite)})
}

// Silence zeroes the 15 listed registers of the SID at baseReg
// (0x00, 0x20, 0x40, ... for sockets 0, 1, 2, ...). If writeVolume is
// set, volume/filter-mode (0x18) is also zeroed.
func Silence(baseReg uint8, writeVolume bool) []sidwrite.Write {
	var writes []sidwrite.Write
	for _, reg := range silenceTargets {
		writes = push(writes, baseReg, reg, 0, minCycleSidWrite)
	}
	if writeVolume {
		writes = push(writes, baseReg, 0x18, 0, minCycleSidWrite)
	}
	return writes
}

// Sid zeroes the silence set, flips the ADC test bit on every register
// in RESET_REGS (0xFF then 0x08, settle, then 0x00), and optionally
// appends a ~40,000-cycle settle delay (spec §4.7 "Full reset").
func Sid(baseReg uint8, addSettleTime bool) []sidwrite.Write {
	writes := Silence(baseReg, false)

	for _, reg := range resetRegs {
		writes = push(writes, baseReg, reg, 0xff, minCycleSidWrite)
		writes = push(writes, baseReg, reg, 0x08, minCycleSidWrite)
	}

	writes = append(writes, sidwrite.Write{Reg: baseReg + sidwrite.DummyReg, Data: 0, Cycles: timeBetweenTestBitFlip})

	for _, reg := range resetRegs {
		writes = push(writes, baseReg, reg, 0x00, minCycleSidWrite)
	}

	if addSettleTime {
		writes = append(writes, sidwrite.Write{Reg: baseReg + sidwrite.DummyReg, Data: 0, Cycles: timeForAdsrToStabilize})
	}

	return writes
}

// AllSids resets every SID socket 0..count-1 in turn, optionally
// appending one trailing settle delay after the last socket.
func AllSids(count int, addSettleTime bool) []sidwrite.Write {
	var writes []sidwrite.Write
	for i := 0; i < count; i++ {
		writes = append(writes, Sid(uint8(i*0x20), false)...)
	}
	if addSettleTime {
		writes = append(writes, sidwrite.Write{Reg: sidwrite.DummyReg, Data: 0, Cycles: timeForAdsrToStabilize})
	}
	return writes
}

// ResumeOrder is the fixed per-voice-then-per-SID register order spec
// §4.6 requires replay to follow: freq-hi, freq-lo, pw-hi, pw-lo, ad,
// sr, ctrl per voice, then filter-fc-lo, fc-hi, res/filt, vol/mode.
var ResumeOrder = [...]uint8{
	// voice 0
	0x01, 0x00, 0x03, 0x02, 0x05, 0x06, 0x04,
	// voice 1
	0x08, 0x07, 0x0a, 0x09, 0x0c, 0x0d, 0x0b,
	// voice 2
	0x0f, 0x0e, 0x11, 0x10, 0x13, 0x14, 0x12,
	// filter + volume
	0x15, 0x16, 0x17, 0x18,
}

// Replay rebuilds the exact pre-pause register state of the SID at
// baseReg by reissuing lwt's last-recorded value for each register in
// ResumeOrder, MIN_CYCLE_SID_WRITE apart (spec §4.6). This is the
// other half of pause/resume: Silence stops the chip, Replay restores
// it once the producer resumes pulling from the emulator.
func Replay(baseReg uint8, lwt *sidwrite.LastWriteTable) []sidwrite.Write {
	writes := make([]sidwrite.Write, 0, len(ResumeOrder))
	for _, reg := range ResumeOrder {
		writes = push(writes, baseReg, reg, lwt.Last[baseReg+reg], minCycleSidWrite)
	}
	return writes
}
