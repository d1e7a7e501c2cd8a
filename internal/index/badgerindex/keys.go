package badgerindex

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/shingles/internal/shingle"
)

// Key prefixes. Integers are big endian so prefix scans return them in
// ascending order.
const (
	prefixDocument   byte = 'd' // d/<id>               -> sorted sketch hashes
	prefixHash       byte = 'h' // h/<hash>/<id>        -> empty
	prefixSimilarity byte = 's' // s/<master>/<similar> -> empty
)

func documentKey(id int) []byte {
	k := make([]byte, 9)
	k[0] = prefixDocument
	binary.BigEndian.PutUint64(k[1:], uint64(id))
	return k
}

func hashPrefix(h uint64) []byte {
	k := make([]byte, 9, 17)
	k[0] = prefixHash
	binary.BigEndian.PutUint64(k[1:], h)
	return k
}

func hashKey(h uint64, id int) []byte {
	return binary.BigEndian.AppendUint64(hashPrefix(h), uint64(id))
}

func similarityPrefix(master int) []byte {
	k := make([]byte, 9, 17)
	k[0] = prefixSimilarity
	binary.BigEndian.PutUint64(k[1:], uint64(master))
	return k
}

func similarityKey(master, similar int) []byte {
	return binary.BigEndian.AppendUint64(similarityPrefix(master), uint64(similar))
}

// idAt reads the id stored at offset off of key.
func idAt(key []byte, off int) int {
	return int(binary.BigEndian.Uint64(key[off : off+8]))
}

func encodeSketch(sk shingle.Sketch) []byte {
	hashes := sk.Sorted()
	b := make([]byte, 0, 8*len(hashes))
	for _, h := range hashes {
		b = binary.BigEndian.AppendUint64(b, h)
	}
	return b
}

func decodeSketch(b []byte) (shingle.Sketch, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("sketch value has %d bytes, not a multiple of 8", len(b))
	}
	sk := make(shingle.Sketch, len(b)/8)
	for chunk := range slices.Chunk(b, 8) {
		sk.Add(binary.BigEndian.Uint64(chunk))
	}
	return sk, nil
}
