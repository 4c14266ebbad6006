package segment

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/websearch/internal/indexer/tokenizer"
)

type Reader struct {
	file     *os.File
	filePath string
	header   SegmentHeader
	dict     []DictEntry
	docsCRC  uint32
	docsOff  int64
	docsSize int64
}

// OpenReader validates the header, footer and dictionary checksum of the
// segment at path. Posting blocks are read lazily by Search.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	r, err := open(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func open(f *os.File, path string) (*Reader, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat segment file: %w", err)
	}
	if info.Size() < int64(HeaderSize+FooterSize) {
		return nil, fmt.Errorf("invalid segment file %s: too short (%d bytes)", path, info.Size())
	}
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return nil, fmt.Errorf("reading segment header: %w", err)
	}
	header := decodeHeader(headerBytes)
	if header.Magic != MagicBytes {
		return nil, fmt.Errorf("invalid segment file: bad magic bytes %x", header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported segment version %d", header.Version)
	}

	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, info.Size()-int64(FooterSize)); err != nil {
		return nil, fmt.Errorf("reading segment footer: %w", err)
	}
	if binary.LittleEndian.Uint32(footer[24:28]) != MagicBytes {
		return nil, fmt.Errorf("invalid segment file: footer missing, file may be truncated")
	}
	dictCRC := binary.LittleEndian.Uint32(footer[0:4])

	dictBytes := make([]byte, header.DictSize)
	if _, err := f.ReadAt(dictBytes, header.DictOffset); err != nil {
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	if crc32.ChecksumIEEE(dictBytes) != dictCRC {
		return nil, fmt.Errorf("dictionary checksum mismatch in %s", path)
	}
	var dict []DictEntry
	if err := cbor.Unmarshal(dictBytes, &dict); err != nil {
		return nil, fmt.Errorf("parsing dictionary: %w", err)
	}
	return &Reader{
		file:     f,
		filePath: path,
		header:   header,
		dict:     dict,
		docsCRC:  binary.LittleEndian.Uint32(footer[4:8]),
		docsOff:  int64(binary.LittleEndian.Uint64(footer[8:16])),
		docsSize: int64(binary.LittleEndian.Uint64(footer[16:24])),
	}, nil
}

// Search returns the postings for term, or nil if the segment does not
// contain it.
func (r *Reader) Search(term string) (index.PostingList, error) {
	idx := sort.Search(len(r.dict), func(i int) bool {
		return r.dict[i].Term >= term
	})
	if idx >= len(r.dict) || r.dict[idx].Term != term {
		return nil, nil
	}
	return r.readPostings(r.dict[idx])
}

func (r *Reader) readPostings(entry DictEntry) (index.PostingList, error) {
	block := make([]byte, entry.PostLen)
	if _, err := r.file.ReadAt(block, r.header.PostOffset+entry.PostOffset); err != nil {
		return nil, fmt.Errorf("reading postings for %q: %w", entry.Term, err)
	}
	raw, err := decoder.DecodeAll(block, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing postings for %q: %w", entry.Term, err)
	}
	var records []postingRecord
	if err := cbor.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("parsing postings for %q: %w", entry.Term, err)
	}
	postings := make(index.PostingList, len(records))
	for i, rec := range records {
		postings[i] = index.Posting{
			DocID:     index.DocID(rec.DocID),
			Frequency: rec.Frequency,
			Positions: rec.Positions,
		}
	}
	return postings, nil
}

// Documents reads and verifies the document table.
func (r *Reader) Documents() ([]index.DocEntry, error) {
	data := make([]byte, r.docsSize)
	if _, err := r.file.ReadAt(data, r.docsOff); err != nil {
		return nil, fmt.Errorf("reading document table: %w", err)
	}
	if crc32.ChecksumIEEE(data) != r.docsCRC {
		return nil, fmt.Errorf("document table checksum mismatch in %s", r.filePath)
	}
	var records []docRecord
	if err := cbor.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing document table: %w", err)
	}
	docs := make([]index.DocEntry, len(records))
	for i, rec := range records {
		docs[i] = index.DocEntry{
			Document: index.Document{
				ID:    index.DocID(rec.ID),
				URL:   rec.URL,
				Title: rec.Title,
				Body:  rec.Body,
			},
			Length: rec.Length,
		}
	}
	return docs, nil
}

// ReadAll loads every term and document of the segment into a fresh
// MemoryIndex.
func (r *Reader) ReadAll(tok *tokenizer.Tokenizer) (*index.MemoryIndex, error) {
	docs, err := r.Documents()
	if err != nil {
		return nil, err
	}
	entries := make([]index.TermEntry, 0, len(r.dict))
	for _, d := range r.dict {
		postings, err := r.readPostings(d)
		if err != nil {
			return nil, err
		}
		if len(postings) != d.DocFreq {
			return nil, fmt.Errorf("term %q: expected %d postings, found %d", d.Term, d.DocFreq, len(postings))
		}
		entries = append(entries, index.TermEntry{Term: d.Term, Postings: postings})
	}
	mi, err := index.Restore(tok, docs, entries)
	if err != nil {
		return nil, fmt.Errorf("restoring segment %s: %w", r.filePath, err)
	}
	return mi, nil
}

func (r *Reader) Path() string {
	return r.filePath
}

func (r *Reader) Terms() int {
	return len(r.dict)
}

func (r *Reader) DocCount() uint32 {
	return r.header.DocCount
}

func (r *Reader) Header() SegmentHeader {
	return r.header
}

func (r *Reader) Close() error {
	return r.file.Close()
}

// List returns the complete segment files in dataDir, oldest first. Leftover
// .tmp files are ignored.
func List(dataDir string) ([]string, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing segments: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "seg_") || !strings.HasSuffix(e.Name(), Extension) {
			continue
		}
		paths = append(paths, filepath.Join(dataDir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// Prune removes all but the newest keep segments and returns the paths it
// removed.
func Prune(dataDir string, keep int) ([]string, error) {
	if keep < 1 {
		keep = 1
	}
	paths, err := List(dataDir)
	if err != nil {
		return nil, err
	}
	if len(paths) <= keep {
		return nil, nil
	}
	stale := paths[:len(paths)-keep]
	for _, p := range stale {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing segment %s: %w", p, err)
		}
	}
	return stale, nil
}
