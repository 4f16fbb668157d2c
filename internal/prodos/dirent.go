package prodos

import (
	"encoding/binary"
	"time"
)

const direntSize = 0x27 // 39 bytes, per spec §6

// prodosEpochYear is the ProDOS date base: dates are stored as a packed
// year/month/day + hour/minute pair with no century bit, so values are
// interpreted as 1940-2039 the way ProDOS 8 and GS/OS both do it.
const prodosEpochYear = 1900

// Dirent is one decoded ProDOS directory entry (a file, subdirectory, or
// the directory/volume header entry that begins every directory block).
type Dirent struct {
	StorageType StorageType
	Name        string
	FileType    uint8
	KeyBlock    uint16
	BlocksUsed  uint16
	EOF         uint32 // 24-bit on disk
	CreateDate  time.Time
	ModDate     time.Time
	Access      uint8
	AuxType     uint16
	HeaderBlock uint16 // block number of the directory this entry lives in (for ".." style navigation)
}

func decodeDirent(raw []byte, headerBlock uint16) Dirent {
	var d Dirent
	d.StorageType = StorageType(raw[0] >> 4)
	nameLen := int(raw[0] & 0x0f)
	d.Name = macRomanToUTF8(raw[1 : 1+nameLen])
	d.FileType = raw[0x10]
	d.KeyBlock = binary.LittleEndian.Uint16(raw[0x11:])
	d.BlocksUsed = binary.LittleEndian.Uint16(raw[0x13:])
	d.EOF = uint32(raw[0x15]) | uint32(raw[0x16])<<8 | uint32(raw[0x17])<<16
	d.CreateDate = decodeProDate(raw[0x18:0x1c])
	d.Access = raw[0x1e]
	d.AuxType = binary.LittleEndian.Uint16(raw[0x1f:])
	d.ModDate = decodeProDate(raw[0x21:0x25])
	d.HeaderBlock = headerBlock
	return d
}

func (d Dirent) encode() []byte {
	raw := make([]byte, direntSize)
	name := utf8ToMacRoman(d.Name)
	if len(name) > 15 {
		name = name[:15]
	}
	raw[0] = byte(d.StorageType)<<4 | byte(len(name))
	copy(raw[1:], name)
	raw[0x10] = d.FileType
	binary.LittleEndian.PutUint16(raw[0x11:], d.KeyBlock)
	binary.LittleEndian.PutUint16(raw[0x13:], d.BlocksUsed)
	raw[0x15] = byte(d.EOF)
	raw[0x16] = byte(d.EOF >> 8)
	raw[0x17] = byte(d.EOF >> 16)
	encodeProDate(raw[0x18:0x1c], d.CreateDate)
	raw[0x1e] = d.Access
	binary.LittleEndian.PutUint16(raw[0x1f:], d.AuxType)
	encodeProDate(raw[0x21:0x25], d.ModDate)
	return raw
}

// decodeProDate unpacks ProDOS's 4-byte YMD/HM date (spec §6): a 16-bit
// word with year in bits 9-15 (0-99, offset from 1900 with the usual
// ProDOS century-rollover convention: >=40 means 19xx, <40 means 20xx),
// month in bits 5-8, day in bits 0-4, followed by a 16-bit word with hour
// in bits 8-12 and minute in bits 0-5.
func decodeProDate(b []byte) time.Time {
	ymd := binary.LittleEndian.Uint16(b[0:2])
	hm := binary.LittleEndian.Uint16(b[2:4])
	if ymd == 0 {
		return time.Time{}
	}
	year := int(ymd >> 9)
	month := int((ymd >> 5) & 0x0f)
	day := int(ymd & 0x1f)
	hour := int((hm >> 8) & 0x1f)
	minute := int(hm & 0x3f)
	if year < 40 {
		year += 2000
	} else {
		year += prodosEpochYear
	}
	if month == 0 || day == 0 {
		return time.Time{}
	}
	return time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC)
}

func encodeProDate(b []byte, t time.Time) {
	if t.IsZero() {
		b[0], b[1], b[2], b[3] = 0, 0, 0, 0
		return
	}
	year := t.Year() % 100
	ymd := uint16(year)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
	hm := uint16(t.Hour())<<8 | uint16(t.Minute())
	binary.LittleEndian.PutUint16(b[0:2], ymd)
	binary.LittleEndian.PutUint16(b[2:4], hm)
}
