// Package identity derives stable chunk addresses. A logical key names a
// position in a document's hierarchy; a chunk id adds a short content
// revision so edited text gets a new id while keeping its address.
package identity

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/code-sleuth/roeum-go/internal/manager/models"

	"github.com/go-crypt/x/blake2b"
)

const (
	// revisionBytes is how much of the digest appears in a chunk id.
	revisionBytes = 4
	docIDBytes    = 8

	unknownRevision = "0"
)

var slugUnsafeRe = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// Address is the hierarchy position of a chunk.
type Address struct {
	Chapter    *int
	Article    *int
	ArticleSub *int
	Paragraph  *int
	Item       *int
}

// AddressOf returns the address of a span.
func AddressOf(sp models.StructuralSpan) Address {
	return Address{
		Chapter:    sp.ChapterNo,
		Article:    sp.ArticleNo,
		ArticleSub: sp.ArticleSub,
		Paragraph:  sp.ParagraphNo,
		Item:       sp.ItemNo,
	}
}

func num(p *int) string {
	if p == nil {
		return "0"
	}
	return strconv.Itoa(*p)
}

// LogicalKey formats doc:<doc_id>:<revision>:ch<n>:art<n>:para<n>:item<n>.
// Missing levels are 0. Branch articles render as art<n>_<m>.
func LogicalKey(docID, revision string, addr Address) string {
	if revision == "" {
		revision = unknownRevision
	}
	article := num(addr.Article)
	if addr.ArticleSub != nil && *addr.ArticleSub > 0 {
		article += "_" + strconv.Itoa(*addr.ArticleSub)
	}
	return fmt.Sprintf("doc:%s:%s:ch%s:art%s:para%s:item%s",
		docID, revision, num(addr.Chapter), article, num(addr.Paragraph), num(addr.Item))
}

func digest(text string, size int) string {
	h, _ := blake2b.New(size, nil)
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// ContentRevision is a short hex digest of the exact leaf text.
func ContentRevision(text string) string {
	return digest(text, revisionBytes)
}

// ChunkID joins a logical key with the content revision of text.
func ChunkID(logicalKey, text string) string {
	return logicalKey + ":" + ContentRevision(text)
}

// DocID returns externalKey when present, otherwise a slug of the title
// suffixed with a digest of the normalized title.
func DocID(externalKey, title string) string {
	if k := strings.TrimSpace(externalKey); k != "" {
		return strings.ReplaceAll(k, ":", "_")
	}
	norm := strings.ToLower(strings.Join(strings.Fields(title), " "))
	slug := strings.Trim(slugUnsafeRe.ReplaceAllString(norm, "-"), "-")
	if runes := []rune(slug); len(runes) > 32 {
		slug = string(runes[:32])
	}
	if slug == "" {
		slug = "untitled"
	}
	return slug + "-" + digest(norm, docIDBytes)
}

// Assign fills the identity fields of c from its document and address.
func Assign(c *models.Chunk, header *models.DocumentHeader, addr Address) {
	c.DocID = header.DocID
	c.LogicalKey = LogicalKey(header.DocID, header.Revision, addr)
	c.ContentRevision = ContentRevision(c.Text)
	c.ChunkID = c.LogicalKey + ":" + c.ContentRevision
	c.ChapterNo = addr.Chapter
	c.ArticleNo = addr.Article
	c.ArticleSub = addr.ArticleSub
	c.ParagraphNo = addr.Paragraph
	c.ItemNo = addr.Item
}
