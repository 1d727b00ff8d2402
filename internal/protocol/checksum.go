package protocol

// CRC-8 parameters per the device protocol description.
const (
	crc8Polynomial = 0x07
	crc8Initial    = 0x00
)

var crc8Table = makeCRC8Table()

func makeCRC8Table() [256]byte {
	var table [256]byte
	for i := 0; i < 256; i++ {
		crc := byte(i)
		for bit := 0; bit < 8; bit++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ crc8Polynomial
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}

// Checksum computes the frame CRC-8 over cmd, packet number and payload.
func Checksum(data []byte) byte {
	crc := byte(crc8Initial)
	for _, b := range data {
		crc = crc8Table[crc^b]
	}
	return crc
}
