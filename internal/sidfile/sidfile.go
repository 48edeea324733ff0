// Package sidfile sniffs and reads PSID/RSID tune file headers: just
// enough to hand the emulator a title/author/song-count and compute
// the MD5 hash the HVSC databases key tunes by. Grounded on
// original_source/src/utils/sid_file.rs.
package sidfile

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Byte offsets and sizes within a PSID/RSID header, unchanged across
// the two magic variants.
const (
	formatVersionOffset = 0x05
	headerSizeOffset    = 0x07
	songCountOffset     = 0x0f
	defaultSongOffset   = 0x11
	titleOffset         = 0x16
	authorOffset        = 0x36
	releasedOffset      = 0x56
	flagsOffset         = 0x77

	headerSize    = 0x7c
	minHeaderSize = 0x76

	stringFieldSize = 32
)

// Flag bits at flagsOffset.
const (
	FlagBuiltinMusPlayer = 0x01
	FlagNTSC             = 0x08
	Flag8580             = 0x20
)

// Header holds the subset of a PSID/RSID header sidrelay cares about.
type Header struct {
	Magic         string
	FormatVersion uint16
	Songs         int
	StartSong     int
	Title         string
	Author        string
	Released      string
	Flags         uint8
	MD5           string
}

// IsSidFile reports whether data begins with a recognized PSID/RSID
// magic and is at least long enough to hold the fixed-size header.
func IsSidFile(data []byte) bool {
	if len(data) < minHeaderSize {
		return false
	}
	magic := string(data[0:4])
	return magic == "RSID" || magic == "PSID"
}

// ParseHeader reads the fixed-size header fields out of a PSID/RSID
// tune file. The MD5 field is computed over the whole file, matching
// how HVSC's Songlengths database keys its entries.
func ParseHeader(data []byte) (Header, error) {
	if !IsSidFile(data) {
		return Header{}, fmt.Errorf("sidfile: not a PSID/RSID file")
	}

	h := Header{
		Magic:         string(data[0:4]),
		FormatVersion: binary.BigEndian.Uint16(data[formatVersionOffset : formatVersionOffset+2]),
		Songs:         int(binary.BigEndian.Uint16(data[songCountOffset : songCountOffset+2])),
		StartSong:     int(binary.BigEndian.Uint16(data[defaultSongOffset : defaultSongOffset+2])),
		Title:         readCString(data, titleOffset),
		Author:        readCString(data, authorOffset),
		Released:      readCString(data, releasedOffset),
	}
	if len(data) > flagsOffset+1 {
		h.Flags = data[flagsOffset+1]
	}

	sum := md5.Sum(data)
	h.MD5 = hex.EncodeToString(sum[:])

	return h, nil
}

// IsNTSC reports whether the NTSC clock flag is set.
func (h Header) IsNTSC() bool { return h.Flags&FlagNTSC != 0 }

// Is8580 reports whether the tune was authored for the 8580 model.
func (h Header) Is8580() bool { return h.Flags&Flag8580 != 0 }

func readCString(data []byte, offset int) string {
	if offset+stringFieldSize > len(data) {
		return ""
	}
	field := data[offset : offset+stringFieldSize]
	n := 0
	for n < len(field) && field[n] != 0 {
		n++
	}
	return string(field[:n])
}
