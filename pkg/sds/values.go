package sds

// Max21 is the largest value a three group field can hold.
const Max21 = 1<<21 - 1

// Append14 appends v as two 7-bit groups, least significant first.
func Append14(b []byte, v int) []byte {
	return append(b, byte(v)&0x7F, byte(v>>7)&0x7F)
}

// Append21 appends v as three 7-bit groups, least significant first.
func Append21(b []byte, v int) []byte {
	return append(b, byte(v)&0x7F, byte(v>>7)&0x7F, byte(v>>14)&0x7F)
}

// Decode14 reads two 7-bit groups, least significant first.
func Decode14(l, h byte) int {
	return int(l&0x7F) | int(h&0x7F)<<7
}

// Decode21 reads three 7-bit groups, least significant first.
func Decode21(l, m, h byte) int {
	return int(l&0x7F) | int(m&0x7F)<<7 | int(h&0x7F)<<14
}
