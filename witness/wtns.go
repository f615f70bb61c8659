package witness

import (
	"encoding/binary"
	"io"

	"github.com/holiman/uint256"

	"github.com/user-none/witnesscalc/field"
)

// The wtns container is the fixed-size format proving systems consume:
//
//	magic "wtns", version (u32), section count (u32)
//	section 1: field definition — n8 (u32), modulus (n8 bytes LE),
//	           witness length (u32)
//	section 2: witness values, 32 bytes little endian each
//
// Section headers are a u32 id followed by a u64 byte length. All
// integers are little endian.

const (
	wtnsVersion    = 2
	fieldByteCount = 32
)

var wtnsMagic = []byte("wtns")

// WriteWTNS writes the witness in the wtns container format.
func WriteWTNS(w io.Writer, witness []uint256.Int) error {
	if _, err := w.Write(wtnsMagic); err != nil {
		return err
	}
	if err := writeU32(w, wtnsVersion); err != nil {
		return err
	}
	if err := writeU32(w, 2); err != nil {
		return err
	}

	// Section 1: field definition.
	if err := writeU32(w, 1); err != nil {
		return err
	}
	if err := writeU64(w, 4+fieldByteCount+4); err != nil {
		return err
	}
	if err := writeU32(w, fieldByteCount); err != nil {
		return err
	}
	if err := writeElement(w, field.Modulus()); err != nil {
		return err
	}
	if err := writeU32(w, uint32(len(witness))); err != nil {
		return err
	}

	// Section 2: witness values.
	if err := writeU32(w, 2); err != nil {
		return err
	}
	if err := writeU64(w, uint64(len(witness))*fieldByteCount); err != nil {
		return err
	}
	for i := range witness {
		if err := writeElement(w, &witness[i]); err != nil {
			return err
		}
	}
	return nil
}

func writeU32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeU64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// writeElement writes a field element as 32 little-endian bytes.
func writeElement(w io.Writer, v *uint256.Int) error {
	be := v.Bytes32()
	var le [fieldByteCount]byte
	for i := range le {
		le[i] = be[len(be)-1-i]
	}
	_, err := w.Write(le[:])
	return err
}
