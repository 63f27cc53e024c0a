package profilepool

import "fmt"

// KeyForBytes keys a buffer by an order-sensitive rolling hash combined with
// its length.
func KeyForBytes(data []byte) string {
	return fmt.Sprintf("buffer:%08x:%d", rollingHash(data), len(data))
}

func rollingHash(data []byte) uint32 {
	var h uint32
	for _, b := range data {
		h = h*31 + uint32(b)
	}
	return h
}
