package keystore

// zeroize overwrites a byte slice with zeros to clear key material from
// memory once it has been parsed or re-encoded.
func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
