package index

// DocID is the stable identity of an indexed document. Posting lists and
// result tie-breaks order by it.
type DocID uint64

// Document is a web page as delivered by the corpus. It is immutable once
// indexed.
type Document struct {
	ID    DocID  `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Text is what gets tokenized for the inverted index.
func (d Document) Text() string {
	return d.Title + " " + d.Body
}

type Posting struct {
	DocID     DocID
	Frequency int
	Positions []int
}

// PostingList is ordered by ascending DocID with no duplicates.
type PostingList []Posting

type TermEntry struct {
	Term     string
	Postings PostingList
}

// DocEntry is a document together with its token count.
type DocEntry struct {
	Document
	Length int
}
