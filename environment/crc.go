package environment

// crc8 is the CRC-8 with polynomial 0x31 shared by the Sensirion and Silicon
// Labs parts. Sensirion starts from 0xFF, Silicon Labs from 0x00.
func crc8(init byte, data []byte) byte {
	crc := init
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if (crc & 0x80) != 0 {
				crc = (crc << 1) ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
