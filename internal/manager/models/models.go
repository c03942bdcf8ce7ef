package models

import (
	"time"
)

// DocumentKind selects the transformer used for a raw document.
type DocumentKind string

const (
	KindStatute DocumentKind = "statute"
	KindRuling  DocumentKind = "ruling"
)

// QueueStatus is the lifecycle state of an embedding queue row.
type QueueStatus string

const (
	StatusPending QueueStatus = "pending"
	StatusWorking QueueStatus = "working"
	StatusDone    QueueStatus = "done"
	StatusError   QueueStatus = "error"
)

// Valid reports whether s is one of the known queue states.
func (s QueueStatus) Valid() bool {
	switch s {
	case StatusPending, StatusWorking, StatusDone, StatusError:
		return true
	}
	return false
}

// RulingSections holds the labelled parts of a court ruling.
type RulingSections struct {
	Holdings    string `json:"holdings,omitempty"`     // 판시사항
	Summary     string `json:"summary,omitempty"`      // 판결요지
	ReferredLaw string `json:"referred_law,omitempty"` // 참조조문
	Disposition string `json:"disposition,omitempty"`  // 주문
	Reasoning   string `json:"reasoning,omitempty"`    // 이유
	FullText    string `json:"full_text,omitempty"`    // 전문
}

// RawDocument is one record emitted by the scraper.
type RawDocument struct {
	SourceURL   string          `json:"source_url"`
	Title       string          `json:"title"`
	Subtitle    string          `json:"subtitle,omitempty"`
	Body        string          `json:"body,omitempty"`
	BodyHTML    string          `json:"body_html,omitempty"`
	Kind        DocumentKind    `json:"kind,omitempty"`
	ExternalKey string          `json:"external_key,omitempty"`
	Revision    string          `json:"revision,omitempty"`
	ShortTitle  string          `json:"short_title,omitempty"`
	Ministry    string          `json:"ministry,omitempty"`
	Aliases     []string        `json:"aliases,omitempty"`
	Sections    *RulingSections `json:"sections,omitempty"`

	// Ack, when set by the importer, is called once the document has been
	// processed, with the processing error if any.
	Ack func(err error) `json:"-"`
}

// Done reports the outcome of processing d to its importer.
func (d *RawDocument) Done(err error) {
	if d.Ack != nil {
		d.Ack(err)
	}
}

// DocumentHeader identifies a document. Immutable once emitted.
type DocumentHeader struct {
	DocID      string       `json:"doc_id"`
	Kind       DocumentKind `json:"kind"`
	Title      string       `json:"title"`
	Subtitle   string       `json:"subtitle,omitempty"`
	ShortTitle string       `json:"short_title,omitempty"`
	Ministry   string       `json:"ministry,omitempty"`
	SourceURL  string       `json:"source_url"`
	Revision   string       `json:"revision"`
	Aliases    []string     `json:"aliases,omitempty"`
	Lang       string       `json:"lang"`
}

// StructuralSpan is a contiguous region of normalized text addressed by its
// place in the chapter > article > paragraph > item hierarchy.
type StructuralSpan struct {
	ChapterNo    *int    `json:"chapter_no,omitempty"`
	ChapterTitle *string `json:"chapter_title,omitempty"`
	ArticleNo    *int    `json:"article_no,omitempty"`
	ArticleSub   *int    `json:"article_sub,omitempty"`
	ArticleTitle *string `json:"article_title,omitempty"`
	ParagraphNo  *int    `json:"paragraph_no,omitempty"`
	ItemNo       *int    `json:"item_no,omitempty"`
	RawText      string  `json:"raw_text"`
	Body         string  `json:"body"`
	Start        int     `json:"start"`
	End          int     `json:"end"`
	Heading      bool    `json:"heading,omitempty"`
	Preamble     bool    `json:"preamble,omitempty"`
}

// Link is an outgoing citation to another law's article.
type Link struct {
	LawName   string `json:"law_name"`
	ArticleNo int    `json:"article_no"`
}

// Chunk is the embedding unit produced for a document.
type Chunk struct {
	ChunkID         string   `json:"chunk_id"`
	LogicalKey      string   `json:"logical_key"`
	ContentRevision string   `json:"content_revision"`
	DocID           string   `json:"doc_id"`
	ChunkNo         int      `json:"chunk_no"`
	Text            string   `json:"text"`
	DisplayText     string   `json:"display_text"`
	Breadcrumbs     []string `json:"breadcrumbs"`
	ChapterNo       *int     `json:"chapter_no,omitempty"`
	ChapterTitle    *string  `json:"chapter_title,omitempty"`
	ArticleNo       *int     `json:"article_no,omitempty"`
	ArticleSub      *int     `json:"article_sub,omitempty"`
	ArticleTitle    *string  `json:"article_title,omitempty"`
	ParagraphNo     *int     `json:"paragraph_no,omitempty"`
	ItemNo          *int     `json:"item_no,omitempty"`
	TokensEstimate  int      `json:"tokens_estimate"`
	LinksOut        []Link   `json:"links_out,omitempty"`
	SourceURL       string   `json:"source_url"`
}

// QueueEntry is one row of the durable embedding queue.
type QueueEntry struct {
	ID         int64       `json:"id"`
	SourceURL  string      `json:"source_url"`
	Title      string      `json:"title"`
	Subtitle   string      `json:"subtitle"`
	ChunkNo    int         `json:"chunk_no"`
	ChunkText  string      `json:"chunk"`
	ChunkID    string      `json:"chunk_id"`
	LogicalKey string      `json:"logical_key"`
	Status     QueueStatus `json:"status"`
	Error      *string     `json:"error"`
	WorkerID   *string     `json:"worker_id"`
	Attempts   int         `json:"attempts"`
	ClaimedAt  *time.Time  `json:"claimed_at"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// EmbeddingResult is the stored vector for a queue row.
type EmbeddingResult struct {
	QueueID   int64     `json:"queue_id"`
	ChunkNo   int       `json:"chunk_no"`
	Model     string    `json:"model"`
	Vector    []float32 `json:"vector"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QueueStats counts queue rows per status.
type QueueStats struct {
	Pending int `json:"pending"`
	Working int `json:"working"`
	Done    int `json:"done"`
	Error   int `json:"error"`
	Total   int `json:"total"`
}
