// Package segment persists a full inverted index to a single binary file and
// reads it back. A segment is laid out as
//
//	header (64 bytes) | posting blocks | dictionary | document table | footer (32 bytes)
//
// Posting blocks are CBOR arrays compressed with zstd. The dictionary and
// document table are plain CBOR, each covered by a CRC32 in the footer.
package segment

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer/index"
)

const (
	// MagicBytes is "WSIX" read as a little-endian uint32.
	MagicBytes    uint32 = 0x58495357
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	FooterSize    int    = 32
	Extension            = ".wsix"
)

// SegmentHeader is the 64-byte header written at the start of every segment.
type SegmentHeader struct {
	Magic      uint32
	Version    uint32
	TermCount  uint32
	DocCount   uint32
	CreatedAt  int64
	DictOffset int64
	DictSize   int64
	PostOffset int64
	PostSize   int64
}

// DictEntry maps a term to its compressed posting block.
type DictEntry struct {
	Term       string `cbor:"1,keyasint"`
	PostOffset int64  `cbor:"2,keyasint"`
	PostLen    int    `cbor:"3,keyasint"`
	DocFreq    int    `cbor:"4,keyasint"`
}

type postingRecord struct {
	_         struct{} `cbor:",toarray"`
	DocID     uint64
	Frequency int
	Positions []int
}

type docRecord struct {
	_      struct{} `cbor:",toarray"`
	ID     uint64
	URL    string
	Title  string
	Body   string
	Length int
}

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// Writer serialises index snapshots into new segment files.
type Writer struct {
	dataDir string
}

func NewWriter(dataDir string) *Writer {
	return &Writer{dataDir: dataDir}
}

// Write atomically creates a new segment holding docs and entries. It writes
// to a .tmp file, syncs it and renames it into place, so readers never see a
// partial segment.
func (w *Writer) Write(docs []index.DocEntry, entries []index.TermEntry) (string, error) {
	if len(docs) == 0 {
		return "", fmt.Errorf("cannot write empty segment")
	}
	segmentName := fmt.Sprintf("seg_%d%s", time.Now().UnixNano(), Extension)
	finalPath := filepath.Join(w.dataDir, segmentName)
	tmpPath := finalPath + ".tmp"

	if err := os.MkdirAll(w.dataDir, 0755); err != nil {
		return "", fmt.Errorf("creating segment directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp segment file: %w", err)
	}
	defer func() {
		f.Close()
		os.Remove(tmpPath)
	}()

	headerBytes := make([]byte, HeaderSize)
	if _, err := f.Write(headerBytes); err != nil {
		return "", fmt.Errorf("writing header: %w", err)
	}

	postingsStart := int64(HeaderSize)
	offset := int64(0)
	dict := make([]DictEntry, 0, len(entries))
	records := make([]postingRecord, 0, 64)
	for _, entry := range entries {
		records = records[:0]
		for _, p := range entry.Postings {
			records = append(records, postingRecord{
				DocID:     uint64(p.DocID),
				Frequency: p.Frequency,
				Positions: p.Positions,
			})
		}
		raw, err := cbor.Marshal(records)
		if err != nil {
			return "", fmt.Errorf("encoding postings for term %q: %w", entry.Term, err)
		}
		block := encoder.EncodeAll(raw, nil)
		if _, err := f.Write(block); err != nil {
			return "", fmt.Errorf("writing postings for term %q: %w", entry.Term, err)
		}
		dict = append(dict, DictEntry{
			Term:       entry.Term,
			PostOffset: offset,
			PostLen:    len(block),
			DocFreq:    len(entry.Postings),
		})
		offset += int64(len(block))
	}
	postingsSize := offset

	dictStart := postingsStart + postingsSize
	dictData, err := cbor.Marshal(dict)
	if err != nil {
		return "", fmt.Errorf("encoding dictionary: %w", err)
	}
	if _, err := f.Write(dictData); err != nil {
		return "", fmt.Errorf("writing dictionary: %w", err)
	}

	docsStart := dictStart + int64(len(dictData))
	docTable := make([]docRecord, len(docs))
	for i, d := range docs {
		docTable[i] = docRecord{
			ID:     uint64(d.ID),
			URL:    d.URL,
			Title:  d.Title,
			Body:   d.Body,
			Length: d.Length,
		}
	}
	docsData, err := cbor.Marshal(docTable)
	if err != nil {
		return "", fmt.Errorf("encoding document table: %w", err)
	}
	if _, err := f.Write(docsData); err != nil {
		return "", fmt.Errorf("writing document table: %w", err)
	}

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(dictData))
	binary.LittleEndian.PutUint32(footer[4:8], crc32.ChecksumIEEE(docsData))
	binary.LittleEndian.PutUint64(footer[8:16], uint64(docsStart))
	binary.LittleEndian.PutUint64(footer[16:24], uint64(len(docsData)))
	binary.LittleEndian.PutUint32(footer[24:28], MagicBytes)
	if _, err := f.Write(footer); err != nil {
		return "", fmt.Errorf("writing footer: %w", err)
	}

	header := SegmentHeader{
		Magic:      MagicBytes,
		Version:    FormatVersion,
		TermCount:  uint32(len(dict)),
		DocCount:   uint32(len(docs)),
		CreatedAt:  time.Now().Unix(),
		DictOffset: dictStart,
		DictSize:   int64(len(dictData)),
		PostOffset: postingsStart,
		PostSize:   postingsSize,
	}
	encodeHeader(headerBytes, header)
	if _, err := f.WriteAt(headerBytes, 0); err != nil {
		return "", fmt.Errorf("updating header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing segment file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing segment file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("renaming segment file: %w", err)
	}
	return segmentName, nil
}

func encodeHeader(b []byte, h SegmentHeader) {
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.TermCount)
	binary.LittleEndian.PutUint32(b[12:16], h.DocCount)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.DictOffset))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.DictSize))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.PostOffset))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.PostSize))
}

func decodeHeader(b []byte) SegmentHeader {
	return SegmentHeader{
		Magic:      binary.LittleEndian.Uint32(b[0:4]),
		Version:    binary.LittleEndian.Uint32(b[4:8]),
		TermCount:  binary.LittleEndian.Uint32(b[8:12]),
		DocCount:   binary.LittleEndian.Uint32(b[12:16]),
		CreatedAt:  int64(binary.LittleEndian.Uint64(b[16:24])),
		DictOffset: int64(binary.LittleEndian.Uint64(b[24:32])),
		DictSize:   int64(binary.LittleEndian.Uint64(b[32:40])),
		PostOffset: int64(binary.LittleEndian.Uint64(b[40:48])),
		PostSize:   int64(binary.LittleEndian.Uint64(b[48:56])),
	}
}
