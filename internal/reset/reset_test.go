package reset

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sidrelay/sidrelay/internal/sidwrite"
)

func TestSilence_ZeroesFifteenRegistersAtBaseOffset(t *testing.T) {
	writes := Silence(0x20, false)
	assert.Len(t, writes, len(silenceTargets))
	for i, w := range writes {
		assert.Equal(t, uint8(0x20)+silenceTargets[i], w.Reg)
		assert.Equal(t, uint8(0), w.Data)
	}
}

func TestSilence_WithVolumeAppendsRegister18(t *testing.T) {
	writes := Silence(0x00, true)
	assert.Len(t, writes, len(silenceTargets)+1)
	last := writes[len(writes)-1]
	assert.Equal(t, uint8(0x18), last.Reg)
}

func TestSid_FlipsEveryResetRegisterThenZeroes(t *testing.T) {
	writes := Sid(0x00, false)

	// silence, then (0xff,0x08) pairs per resetReg, then a settle dummy
	// write, then a final 0x00 per resetReg.
	wantLen := len(silenceTargets) + len(resetRegs)*2 + 1 + len(resetRegs)
	assert.Len(t, writes, wantLen)

	firstFlip := writes[len(silenceTargets)]
	assert.Equal(t, uint8(0xff), firstFlip.Data)
}

func TestSid_AddSettleTimeAppendsTrailingDelay(t *testing.T) {
	without := Sid(0x00, false)
	with := Sid(0x00, true)
	assert.Len(t, with, len(without)+1)
	assert.Equal(t, uint16(timeForAdsrToStabilize), with[len(with)-1].Cycles)
}

func TestAllSids_ResetsEachSocketInTurn(t *testing.T) {
	writes := AllSids(2, false)
	single := Sid(0x00, false)
	assert.Len(t, writes, len(single)*2)

	// second SID's writes are all offset by 0x20.
	for i := 0; i < len(single); i++ {
		assert.Equal(t, single[i].Reg+0x20, writes[len(single)+i].Reg)
	}
}

func TestResumeOrder_CoversAllThreeVoicesAndFilter(t *testing.T) {
	assert.Len(t, ResumeOrder, 3*7+4)
	seen := map[uint8]bool{}
	for _, r := range ResumeOrder {
		seen[r] = true
	}
	assert.Len(t, seen, len(ResumeOrder), "ResumeOrder must not repeat a register")
}

func TestReplay_ReissuesLastWriteTableInResumeOrder(t *testing.T) {
	var lwt sidwrite.LastWriteTable
	for _, reg := range ResumeOrder {
		lwt.Record(0x20+reg, reg+1, uint32(reg))
	}

	writes := Replay(0x20, &lwt)
	assert.Len(t, writes, len(ResumeOrder))
	for i, reg := range ResumeOrder {
		assert.Equal(t, uint8(0x20)+reg, writes[i].Reg)
		assert.Equal(t, reg+1, writes[i].Data)
	}
}
