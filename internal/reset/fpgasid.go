package reset

import "github.com/sidrelay/sidrelay/internal/sidwrite"

// FpgaSidModel selects one of FPGASID's four emulated chip profiles,
// ported from original_source/src/utils/fpgasid.rs.
type FpgaSidModel int

const (
	FpgaSid6581 FpgaSidModel = iota
	FpgaSid8580
	FpgaSid6581R4
	FpgaSid8580R5
)

// ConfigureFpgaSid enters FPGASID's config mode via 0x1e (the dummy
// register doubles as a command port on this board), writes the model
// to 0x1f, waits 1000 cycles and releases config mode. Nothing is read
// back.
func ConfigureFpgaSid(model FpgaSidModel) []sidwrite.Write {
	var w []sidwrite.Write
	w = push(w, 0, 0x1e, 0x80, minCycleSidWrite)
	w = push(w, 0, 0x1f, uint8(model), minCycleSidWrite)
	w = append(w, sidwrite.Write{Reg: 0x1e, Cycles: 1000})
	w = push(w, 0, 0x1e, 0x00, minCycleSidWrite)
	return w
}
