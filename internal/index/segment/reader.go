package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/Adithya-Monish-Kumar-K/shingles/internal/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/shingles/pkg/errors"
)

// Read loads the segment at path. A missing file returns os.ErrNotExist
// (wrapped); any structural problem returns errors.ErrCorruptSegment.
func Read(path string) (index.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return index.Snapshot{}, fmt.Errorf("reading segment file: %w", err)
	}
	return Decode(data)
}

// Decode parses a whole segment held in memory.
func Decode(data []byte) (index.Snapshot, error) {
	var snap index.Snapshot
	if len(data) < HeaderSize+FooterSize {
		return snap, corrupt("segment is %d bytes, shorter than header and footer", len(data))
	}
	header := decodeHeader(data[:HeaderSize])
	if header.Magic != MagicBytes {
		return snap, corrupt("bad magic bytes %x", header.Magic)
	}
	if header.Version != FormatVersion {
		return snap, corrupt("unsupported format version %d", header.Version)
	}

	bodyEnd := int64(len(data) - FooterSize)
	for _, size := range []int64{header.PostSize, header.DictSize, header.SimsSize} {
		if size < 0 || size > bodyEnd {
			return snap, corrupt("section size %d outside file of %d bytes", size, len(data))
		}
	}
	simsOffset := header.DictOffset + header.DictSize
	if header.PostOffset != int64(HeaderSize) ||
		header.DictOffset != header.PostOffset+header.PostSize ||
		simsOffset+header.SimsSize != bodyEnd {
		return snap, corrupt("section offsets do not match file size %d", len(data))
	}

	footer := data[bodyEnd:]
	dictData := data[header.DictOffset:simsOffset]
	simsData := data[simsOffset:bodyEnd]
	checksum := crc32.NewIEEE()
	checksum.Write(dictData)
	checksum.Write(simsData)
	if want := binary.LittleEndian.Uint32(footer[0:4]); checksum.Sum32() != want {
		return snap, corrupt("checksum mismatch: got %08x, want %08x", checksum.Sum32(), want)
	}

	var dict []DictEntry
	if err := json.Unmarshal(dictData, &dict); err != nil {
		return snap, corrupt("parsing dictionary: %v", err)
	}
	if len(dict) != int(header.DocCount) {
		return snap, corrupt("dictionary has %d entries, header says %d", len(dict), header.DocCount)
	}

	postings := data[header.PostOffset:header.DictOffset]
	snap.Documents = make([]index.DocumentEntry, 0, len(dict))
	for _, entry := range dict {
		end := entry.PostOffset + int64(entry.PostLen)
		if entry.PostOffset < 0 || entry.PostLen < 0 || end > int64(len(postings)) {
			return snap, corrupt("document %d points outside postings", entry.ID)
		}
		var doc index.DocumentEntry
		if err := json.Unmarshal(postings[entry.PostOffset:end], &doc); err != nil {
			return snap, corrupt("parsing document %d: %v", entry.ID, err)
		}
		if doc.ID != entry.ID || len(doc.Hashes) != entry.HashCount {
			return snap, corrupt("document %d does not match its dictionary entry", entry.ID)
		}
		snap.Documents = append(snap.Documents, doc)
	}

	if err := json.Unmarshal(simsData, &snap.Similarities); err != nil {
		return snap, corrupt("parsing similarities: %v", err)
	}
	return snap, nil
}

func corrupt(format string, args ...any) error {
	return apperrors.Newf(apperrors.ErrCorruptSegment, "read segment", format, args...)
}
