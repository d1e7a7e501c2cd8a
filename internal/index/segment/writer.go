// Package segment persists a memory index as a single .spdx segment file
// per index name. The file is rewritten atomically on Save and loaded back
// on Open.
//
// Layout (little endian):
//
//	header   64 bytes   magic, version, counts, section offsets
//	postings            one JSON document entry per stored sketch
//	dict                JSON array locating every entry in postings
//	sims                JSON array of master -> similar edges
//	footer   32 bytes   crc32 over dict and sims, counts, offsets
package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/shingles/internal/index"
)

const (
	MagicBytes    uint32 = 0x53504458
	FormatVersion uint32 = 2
	HeaderSize    int    = 64
	FooterSize    int    = 32
	Extension            = ".spdx"
)

// Header is the fixed-size block at the start of every segment.
type Header struct {
	Magic       uint32
	Version     uint32
	DocCount    uint32
	MasterCount uint32
	CreatedAt   int64
	PostOffset  int64
	PostSize    int64
	DictOffset  int64
	DictSize    int64
	SimsSize    int64
}

// DictEntry locates one document's hashes in the postings section.
type DictEntry struct {
	ID         int   `json:"id"`
	PostOffset int64 `json:"o"`
	PostLen    int   `json:"l"`
	HashCount  int   `json:"n"`
}

func (h Header) encode() []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.DocCount)
	binary.LittleEndian.PutUint32(b[12:16], h.MasterCount)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.PostOffset))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.PostSize))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.DictOffset))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.DictSize))
	binary.LittleEndian.PutUint64(b[56:64], uint64(h.SimsSize))
	return b
}

func decodeHeader(b []byte) Header {
	return Header{
		Magic:       binary.LittleEndian.Uint32(b[0:4]),
		Version:     binary.LittleEndian.Uint32(b[4:8]),
		DocCount:    binary.LittleEndian.Uint32(b[8:12]),
		MasterCount: binary.LittleEndian.Uint32(b[12:16]),
		CreatedAt:   int64(binary.LittleEndian.Uint64(b[16:24])),
		PostOffset:  int64(binary.LittleEndian.Uint64(b[24:32])),
		PostSize:    int64(binary.LittleEndian.Uint64(b[32:40])),
		DictOffset:  int64(binary.LittleEndian.Uint64(b[40:48])),
		DictSize:    int64(binary.LittleEndian.Uint64(b[48:56])),
		SimsSize:    int64(binary.LittleEndian.Uint64(b[56:64])),
	}
}

// Path returns the segment file of the index name inside dataDir.
func Path(dataDir, name string) string {
	return filepath.Join(dataDir, name+Extension)
}

// Write atomically replaces the segment at path with snap. It writes to a
// .tmp file first and renames on success, so a crash leaves either the old
// or the new segment in place.
func Write(path string, snap index.Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating segment directory: %w", err)
	}
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp segment file: %w", err)
	}
	defer func() {
		f.Close()
		os.Remove(tmpPath)
	}()

	header := Header{
		Magic:       MagicBytes,
		Version:     FormatVersion,
		DocCount:    uint32(len(snap.Documents)),
		MasterCount: uint32(len(snap.Similarities)),
		CreatedAt:   time.Now().Unix(),
		PostOffset:  int64(HeaderSize),
	}
	// placeholder, rewritten once offsets are known
	if _, err := f.Write(header.encode()); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	dict := make([]DictEntry, 0, len(snap.Documents))
	var offset int64
	for _, doc := range snap.Documents {
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshaling document %d: %w", doc.ID, err)
		}
		if _, err := f.Write(data); err != nil {
			return fmt.Errorf("writing document %d: %w", doc.ID, err)
		}
		dict = append(dict, DictEntry{
			ID:         doc.ID,
			PostOffset: offset,
			PostLen:    len(data),
			HashCount:  len(doc.Hashes),
		})
		offset += int64(len(data))
	}
	header.PostSize = offset
	header.DictOffset = header.PostOffset + header.PostSize

	dictData, err := json.Marshal(dict)
	if err != nil {
		return fmt.Errorf("marshaling dictionary: %w", err)
	}
	if _, err := f.Write(dictData); err != nil {
		return fmt.Errorf("writing dictionary: %w", err)
	}
	header.DictSize = int64(len(dictData))

	sims := snap.Similarities
	if sims == nil {
		sims = []index.SimilarityEntry{}
	}
	simsData, err := json.Marshal(sims)
	if err != nil {
		return fmt.Errorf("marshaling similarities: %w", err)
	}
	if _, err := f.Write(simsData); err != nil {
		return fmt.Errorf("writing similarities: %w", err)
	}
	header.SimsSize = int64(len(simsData))

	checksum := crc32.NewIEEE()
	checksum.Write(dictData)
	checksum.Write(simsData)
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], checksum.Sum32())
	binary.LittleEndian.PutUint32(footer[4:8], header.DocCount)
	binary.LittleEndian.PutUint64(footer[8:16], uint64(header.DictOffset))
	binary.LittleEndian.PutUint64(footer[16:24], uint64(header.DictSize))
	binary.LittleEndian.PutUint64(footer[24:32], uint64(header.SimsSize))
	if _, err := f.Write(footer); err != nil {
		return fmt.Errorf("writing footer: %w", err)
	}
	if _, err := f.WriteAt(header.encode(), 0); err != nil {
		return fmt.Errorf("updating header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing segment file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing segment file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming segment file: %w", err)
	}
	return nil
}
