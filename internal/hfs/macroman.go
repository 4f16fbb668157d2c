package hfs

import "strings"

// macRomanToUTF8 and utf8ToMacRoman translate between the Mac OS Roman
// 8-bit encoding HFS catalog names are stored in and Go's native UTF-8
// strings. Only the extended (high-bit) half of the table differs from
// ASCII; low bytes pass through unchanged.
var macRomanHigh = [128]rune{
	'Ä', 'Å', 'Ç', 'É', 'Ñ', 'Ö', 'Ü', 'á', 'à', 'â', 'ä', 'ã', 'å', 'ç', 'é', 'è',
	'ê', 'ë', 'í', 'ì', 'î', 'ï', 'ñ', 'ó', 'ò', 'ô', 'ö', 'õ', 'ú', 'ù', 'û', 'ü',
	'†', '°', '¢', '£', '§', '•', '¶', 'ß', '®', '©', '™', '´', '¨', '≠', 'Æ', 'Ø',
	'∞', '±', '≤', '≥', '¥', 'µ', '∂', '∑', '∏', 'π', '∫', 'ª', 'º', 'Ω', 'æ', 'ø',
	'¿', '¡', '¬', '√', 'ƒ', '≈', '∆', '«', '»', '…', ' ', 'À', 'Ã', 'Õ', 'Œ', 'œ',
	'–', '—', '“', '”', '‘', '’', '÷', '◊', 'ÿ', 'Ÿ', '⁄', '€', '‹', '›', 'ﬁ', 'ﬂ',
	'‡', '·', '‚', '„', '‰', 'Â', 'Ê', 'Á', 'Ë', 'È', 'Í', 'Î', 'Ï', 'Ì', 'Ó', 'Ô',
	0, 'Ò', 'Ú', 'Û', 'Ù', 'ı', 'ˆ', '˜', '¯', '˘', '˙', '˚', '¸', '˝', '˛', 'ˇ',
}

var macRomanEncode map[rune]byte

func init() {
	macRomanEncode = make(map[rune]byte, 128)
	for i, r := range macRomanHigh {
		if r != 0 {
			macRomanEncode[r] = byte(0x80 + i)
		}
	}
}

func macRomanToUTF8(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if c < 0x80 {
			sb.WriteByte(c)
		} else {
			r := macRomanHigh[c-0x80]
			if r == 0 {
				r = '?'
			}
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func utf8ToMacRoman(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r < 0x80 {
			out = append(out, byte(r))
			continue
		}
		if b, ok := macRomanEncode[r]; ok {
			out = append(out, b)
		} else {
			out = append(out, '?')
		}
	}
	return out
}

// macNameOrdinal produces a sort key approximating the classic HFS
// case-insensitive, diacritic-insensitive string comparison used to order
// catalog keys (spec §3: directory entries compare "the way the Finder
// would sort them"). It is deliberately simple: fold case and strip the
// high bit of any accented form down to its base Latin letter where the
// table above makes that obvious, falling back to the raw byte otherwise.
func macNameOrdinal(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		} else if c >= 0x80 {
			c = foldHighByte(c)
		}
		out[i] = c
	}
	return out
}

func foldHighByte(c byte) byte {
	switch c {
	case 0x80, 0x81, 0x87, 0x88, 0x89, 0x8a, 0x8b, 0x8c:
		return 'a'
	case 0x83, 0x8e, 0x8f, 0x90, 0x91:
		return 'e'
	case 0x92, 0x93, 0x94, 0x95:
		return 'i'
	case 0x85, 0x97, 0x98, 0x99, 0x9a, 0x9b:
		return 'o'
	case 0x86, 0x9c, 0x9d, 0x9e, 0x9f:
		return 'u'
	case 0x84, 0x96:
		return 'n'
	case 0x82, 0x8d:
		return 'c'
	default:
		return c
	}
}
