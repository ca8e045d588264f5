package sds

// Checksum is the XOR of the data packet preamble (sub-ID, channel, command,
// sequence) and every body byte, masked to 7 bits.
func Checksum(channel, seq byte, body []byte) byte {
	c := byte(UniversalNonRealtime) ^ (channel & 0x7F) ^ CmdData ^ (seq & 0x7F)
	for _, b := range body {
		c ^= b
	}
	return c & 0x7F
}

// NextSeq advances a packet sequence number modulo 128.
func NextSeq(seq byte) byte {
	return (seq + 1) & 0x7F
}
