package reset

import "github.com/sidrelay/sidrelay/internal/sidwrite"

// SidModel selects between the two real SID chip revisions a socket
// can be populated with.
type SidModel int

const (
	Mos6581 SidModel = iota
	Mos8580
)

// ArmSidFilter carries the four filter-tuning nibbles armSID exposes
// per chip model, ported from original_source/src/utils/armsid.rs.
type ArmSidFilter struct {
	FilterStrength6581  uint8
	FilterLowestFreq6581 uint8
	FilterCentralFreq8580 uint8
	FilterLowestFreq8580 uint8
}

// ConfigureArmSid emits armSID's configuration-mode register dance:
// enter config mode, select the model, tune the filter, save to the
// board's own RAM, leave config mode. Supplemental to spec §4.7 -
// dropped from the distillation but present in the original
// implementation, and not excluded by any Non-goal.
func ConfigureArmSid(model SidModel, filter ArmSidFilter) []sidwrite.Write {
	var w []sidwrite.Write
	w = armSetModel(w, model)
	w = armConfigFilter(w, model, filter)
	w = armDisableConfig(w)
	return w
}

func armEnableConfig(w []sidwrite.Write) []sidwrite.Write {
	w = push(w, 0, 0x1d, 'S', minCycleSidWrite)
	w = push(w, 0, 0x1e, 'I', minCycleSidWrite)
	w = push(w, 0, 0x1f, 'D', minCycleSidWrite)
	w = append(w, sidwrite.Write{Reg: 0x1e, Data: 0, Cycles: 1000})
	return w
}

func armSetModel(w []sidwrite.Write, model SidModel) []sidwrite.Write {
	w = armEnableConfig(w)
	w = push(w, 0, 0x1d, 'S', minCycleSidWrite)
	w = push(w, 0, 0x1e, 'E', minCycleSidWrite)
	if model == Mos6581 {
		w = push(w, 0, 0x1f, '6', minCycleSidWrite)
	} else {
		w = push(w, 0, 0x1f, '8', minCycleSidWrite)
	}
	return w
}

func armConfigFilter(w []sidwrite.Write, model SidModel, f ArmSidFilter) []sidwrite.Write {
	w = armEnableConfig(w)

	strength6581 := (f.FilterStrength6581 + 0x09) & 0x0f
	lowest6581 := (f.FilterLowestFreq6581 + 0x0f) & 0x0f
	central8580 := (f.FilterCentralFreq8580 + 0x0d) & 0x0f
	lowest8580 := (f.FilterLowestFreq8580 + 0x0d) & 0x0f

	switch model {
	case Mos6581:
		w = push(w, 0, 0x1f, strength6581|0x80, minCycleSidWrite)
		w = push(w, 0, 0x1e, 'E', minCycleSidWrite)
		w = append(w, sidwrite.Write{Reg: 0x1e, Cycles: 1000})

		w = push(w, 0, 0x1f, lowest6581|0x90, minCycleSidWrite)
		w = push(w, 0, 0x1e, 'E', minCycleSidWrite)
		w = append(w, sidwrite.Write{Reg: 0x1e, Cycles: 1000})
	case Mos8580:
		w = push(w, 0, 0x1f, central8580|0xa0, minCycleSidWrite)
		w = push(w, 0, 0x1e, 'E', minCycleSidWrite)
		w = append(w, sidwrite.Write{Reg: 0x1e, Cycles: 1000})

		w = push(w, 0, 0x1f, lowest8580|0xb0, minCycleSidWrite)
		w = push(w, 0, 0x1e, 'E', minCycleSidWrite)
		w = append(w, sidwrite.Write{Reg: 0x1e, Cycles: 1000})
	}

	return armSaveToRam(w)
}

func armSaveToRam(w []sidwrite.Write) []sidwrite.Write {
	w = push(w, 0, 0x1f, 0xc0, minCycleSidWrite)
	w = push(w, 0, 0x1e, 'E', minCycleSidWrite)
	w = append(w, sidwrite.Write{Reg: 0x1e, Cycles: 1000})
	return w
}

func armDisableConfig(w []sidwrite.Write) []sidwrite.Write {
	w = push(w, 0, 0x1d, 0, minCycleSidWrite)
	w = push(w, 0, 0x1e, 0, minCycleSidWrite)
	w = push(w, 0, 0x1f, 0, minCycleSidWrite)
	w = append(w, sidwrite.Write{Reg: 0x1e, Cycles: 20000})
	return w
}
