// Package lfn implements the long-filename entry codec from specification
// §3 ("LFN sequence") and §4.4: splitting a long name into 13-UCS-2-unit
// fragments, the ordinal/last-entry-flag byte, and the rotate-right-add
// checksum over the 8.3 short name that ties a run of LFN entries to its
// short-name entry.
//
// The UCS-2 conversion uses only unicode/utf16 from the standard library. That mirrors soypat/fat's internal/utf16x package (the
// same retrieval pack's from-scratch FAT core): even there, with
// golang.org/x/text available, the LFN path is a small hand-rolled codec
// rather than an x/text transform, because the work is just "split a string
// into UTF-16 code units," not general text encoding conversion.
package lfn

import (
	"unicode/utf16"

	fserrors "github.com/gofat/fatfs/errors"
)

// UnitsPerEntry is the number of UCS-2 code units packed into a single LFN
// directory entry, split across the three on-disk fragments (5 + 6 + 2).
const UnitsPerEntry = 13

// LastEntryFlag is ORed into the ordinal byte of the entry holding the
// highest ordinal, which is physically stored first on disk.
const LastEntryFlag = 0x40

// OrdinalMask strips LastEntryFlag to recover the bare ordinal.
const OrdinalMask = 0x3F

// MaxEntries bounds how many LFN entries a single name can need (20 entries
// * 13 units covers names well beyond the 255 UCS-2 unit limit FAT itself
// imposes).
const MaxEntries = 20

// terminator/filler values used to pad the final fragment, exactly as
// FatFs-derived implementations do: the name is NUL-terminated, and any
// remaining units in that fragment (and only that fragment) are filled with
// 0xFFFF.
const (
	terminator = 0x0000
	filler     = 0xFFFF
)

// Fragment is one physical LFN directory entry's payload.
type Fragment struct {
	// Ordinal is the 1-based position of this fragment within the name,
	// counting from the start of the name (ordinal 1 holds the first 13
	// units).
	Ordinal byte
	// Last is true for the fragment with the highest ordinal; it is the one
	// stored first on disk and carries LastEntryFlag.
	Last bool
	// Units holds exactly UnitsPerEntry UCS-2 code units, NUL/0xFFFF padded
	// for the final fragment.
	Units [UnitsPerEntry]uint16
}

// Split encodes name into its on-disk LFN fragments, ordered by ascending
// ordinal (callers write them to disk in descending ordinal order, i.e.
// reversed, per specification §3).
func Split(name string) ([]Fragment, error) {
	if name == "" {
		return nil, fserrors.ErrInvalidArgument.WithMessage("long name must not be empty")
	}
	units := utf16.Encode([]rune(name))
	if len(units) == 0 || len(units) > MaxEntries*UnitsPerEntry {
		return nil, fserrors.ErrInvalidArgument.WithMessage("long name too long")
	}

	numEntries := (len(units) + UnitsPerEntry - 1) / UnitsPerEntry
	fragments := make([]Fragment, numEntries)

	for i := 0; i < numEntries; i++ {
		var frag Fragment
		frag.Ordinal = byte(i + 1)
		start := i * UnitsPerEntry
		for j := 0; j < UnitsPerEntry; j++ {
			idx := start + j
			switch {
			case idx < len(units):
				frag.Units[j] = units[idx]
			case idx == len(units):
				frag.Units[j] = terminator
			default:
				frag.Units[j] = filler
			}
		}
		fragments[i] = frag
	}
	fragments[numEntries-1].Last = true
	return fragments, nil
}

// Join reassembles a name from fragments ordered by ascending ordinal (1, 2,
// 3, ...), the reverse of on-disk physical order.
func Join(fragments []Fragment) string {
	units := make([]uint16, 0, len(fragments)*UnitsPerEntry)
	for _, frag := range fragments {
		for _, u := range frag.Units {
			if u == terminator {
				return string(utf16.Decode(units))
			}
			units = append(units, u)
		}
	}
	return string(utf16.Decode(units))
}

// Checksum computes the classic FAT long-filename checksum over an 11-byte
// 8.3 short name: a fold of (sum rotated right one bit) + next byte, kept to
// 8 bits. Every LFN entry in a valid run carries this value so a reader can
// verify the fragments belong to the short-name entry that follows them.
func Checksum(sfn [11]byte) byte {
	var sum byte
	for _, b := range sfn {
		sum = ((sum >> 1) | (sum << 7)) + b
	}
	return sum
}

// EncodeRuneLen reports how many UTF-16 code units name would occupy. Useful
// for callers deciding whether a name needs LFN entries at all.
func EncodeRuneLen(name string) int {
	n := 0
	for _, r := range name {
		if r > 0xFFFF {
			n += 2
		} else {
			n++
		}
	}
	return n
}
