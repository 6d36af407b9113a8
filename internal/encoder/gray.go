package encoder

// grayEncode returns the 3-bit Gray code for n (0..7), matching the
// stuff-count field table in spec.md ss4.2 step 12.c: 0->000 1->001 2->011
// 3->010 4->110 5->111 6->101 7->100.
func grayEncode(n uint8) uint8 {
	n &= 7
	return n ^ (n >> 1)
}

// grayDecode inverts grayEncode.
func grayDecode(g uint8) uint8 {
	g &= 7
	b2 := (g >> 2) & 1
	b1 := ((g >> 1) & 1) ^ b2
	b0 := (g & 1) ^ b1
	return b2<<2 | b1<<1 | b0
}
