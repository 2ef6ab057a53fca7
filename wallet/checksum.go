package wallet

import (
	"fmt"
	"strings"
)

var (
	descInputCharset = "0123456789()[],'/*abcdefgh@:$%{}IJKLMNOPQRSTUVW" +
		"XYZ&+-.;<=>?!^_|~ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "
	descChecksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
	descGenerator       = [5]uint64{
		0xf5dee51989, 0xa9fdca3312, 0x1bab10e32d, 0x3706b1677a,
		0x644d626ffd,
	}
)

func descPolymod(symbols []uint64) uint64 {
	chk := uint64(1)
	for _, value := range symbols {
		top := chk >> 35
		chk = (chk&0x7ffffffff)<<5 ^ value
		for i, gen := range descGenerator {
			if (top>>i)&1 != 0 {
				chk ^= gen
			}
		}
	}

	return chk
}

func descExpand(desc string) ([]uint64, error) {
	var symbols, groups []uint64
	for _, c := range desc {
		v := strings.IndexRune(descInputCharset, c)
		if v < 0 {
			return nil, fmt.Errorf("invalid descriptor char %q",
				c)
		}

		symbols = append(symbols, uint64(v&31))
		groups = append(groups, uint64(v>>5))
		if len(groups) == 3 {
			symbols = append(
				symbols, groups[0]*9+groups[1]*3+groups[2],
			)
			groups = groups[:0]
		}
	}

	switch len(groups) {
	case 1:
		symbols = append(symbols, groups[0])
	case 2:
		symbols = append(symbols, groups[0]*3+groups[1])
	}

	return symbols, nil
}

// addDescriptorChecksum appends the output descriptor checksum bitcoind
// expects on importdescriptors.
func addDescriptorChecksum(desc string) (string, error) {
	symbols, err := descExpand(desc)
	if err != nil {
		return "", err
	}

	symbols = append(symbols, 0, 0, 0, 0, 0, 0, 0, 0)
	checksum := descPolymod(symbols) ^ 1

	var sb strings.Builder
	sb.WriteString(desc)
	sb.WriteByte('#')
	for i := 0; i < 8; i++ {
		sb.WriteByte(descChecksumCharset[(checksum>>(5*(7-i)))&31])
	}

	return sb.String(), nil
}

// verifyDescriptorChecksum returns true if desc ends in a valid checksum.
func verifyDescriptorChecksum(desc string) bool {
	idx := strings.LastIndexByte(desc, '#')
	if idx < 0 || len(desc)-idx != 9 {
		return false
	}

	symbols, err := descExpand(desc[:idx])
	if err != nil {
		return false
	}
	for _, c := range desc[idx+1:] {
		v := strings.IndexRune(descChecksumCharset, c)
		if v < 0 {
			return false
		}
		symbols = append(symbols, uint64(v))
	}

	return descPolymod(symbols) == 1
}
