package transformers

import (
	"context"
	"strings"
	"testing"

	"github.com/code-sleuth/roeum-go/internal/manager/chunkers"
	"github.com/code-sleuth/roeum-go/internal/manager/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const laborAct = "근로기준법\n" +
	"제1장 총칙\n" +
	"제1조(목적) 이 법은 근로조건의 기준을 정함을 목적으로 한다.\n" +
	"제2조(정의) ① 이 법에서 사용하는 용어의 뜻은 다음과 같다.\n" +
	"1. \"근로자\"란 사람을 말한다.\n" +
	"2. \"사용자\"란 사업주를 말한다.\n" +
	"② 「최저임금법」 제5조에 따른 임금을 말한다.\n" +
	"제2장 근로계약\n" +
	"제3조(계약) 근로계약은 서면으로 한다."

// duplicatingChunker returns every text twice.
type duplicatingChunker struct{}

func (duplicatingChunker) Chunk(text string) ([]string, error) {
	return []string{text, text}, nil
}

func (duplicatingChunker) GetChunkingStrategy() string { return "duplicate" }

func newStatuteTransformer(t *testing.T) *StatuteTransformer {
	t.Helper()
	chunker, err := chunkers.NewSentenceChunker(900, 1400, 200)
	require.NoError(t, err)
	return NewStatuteTransformer(chunker, nil)
}

func statuteDoc(body string) *models.RawDocument {
	return &models.RawDocument{
		SourceURL:   "https://law.example.kr/lsInfo?id=001#top",
		Title:       "근로기준법",
		ExternalKey: "law:001",
		Kind:        models.KindStatute,
		Body:        body,
	}
}

func keys(chunks []*models.Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.LogicalKey
	}
	return out
}

func TestStatuteTransformer_ParagraphKeys(t *testing.T) {
	tr := newStatuteTransformer(t)

	doc := statuteDoc("제1장 총칙\n제1조(목적) 이 법은 ...\n① 첫째.\n② 둘째.")
	result, err := tr.Transform(context.Background(), doc)
	require.NoError(t, err)

	var paragraphs []*models.Chunk
	for _, c := range result.Chunks {
		if c.ParagraphNo != nil {
			paragraphs = append(paragraphs, c)
		}
	}
	require.Len(t, paragraphs, 2)

	first, second := paragraphs[0].LogicalKey, paragraphs[1].LogicalKey
	assert.Equal(t, "doc:law_001:0:ch1:art1:para1:item0", first)
	assert.Equal(t, "doc:law_001:0:ch1:art1:para2:item0", second)
	assert.Equal(t, strings.Replace(first, "para1", "para2", 1), second)
	assert.Equal(t, "첫째.", paragraphs[0].Text)
	assert.Equal(t, "둘째.", paragraphs[1].Text)
}

func TestStatuteTransformer_Transform(t *testing.T) {
	tr := newStatuteTransformer(t)

	result, err := tr.Transform(context.Background(), statuteDoc(laborAct))
	require.NoError(t, err)
	require.NotNil(t, result.Header)

	assert.Equal(t, "law_001", result.Header.DocID)
	assert.Equal(t, "https://law.example.kr/lsInfo?id=001", result.Header.SourceURL)
	assert.Equal(t, models.KindStatute, result.Header.Kind)
	assert.Equal(t, "0", result.Header.Revision)

	assert.Equal(t, []string{
		"doc:law_001:0:ch0:art0:para0:item0",
		"doc:law_001:0:ch1:art1:para0:item0",
		"doc:law_001:0:ch1:art2:para1:item0",
		"doc:law_001:0:ch1:art2:para1:item1",
		"doc:law_001:0:ch1:art2:para1:item2",
		"doc:law_001:0:ch1:art2:para2:item0",
		"doc:law_001:0:ch2:art3:para0:item0",
	}, keys(result.Chunks))

	for i, c := range result.Chunks {
		assert.Equal(t, i+1, c.ChunkNo, "chunk %d number", i)
		assert.Equal(t, c.LogicalKey+":"+c.ContentRevision, c.ChunkID)
		assert.Len(t, c.ContentRevision, 8)
		assert.Equal(t, "law_001", c.DocID)
		assert.Positive(t, c.TokensEstimate)
		assert.LessOrEqual(t, len([]rune(c.Text)), 1400)
	}

	item := result.Chunks[3]
	assert.Equal(t, []string{"제1장 총칙", "제2조(정의)", "1항", "1호"}, item.Breadcrumbs)
	assert.Equal(t, "제1장 총칙 > 제2조(정의) > 1항 > 1호 — \"근로자\"란 사람을 말한다.", item.DisplayText)
	require.NotNil(t, item.ArticleTitle)
	assert.Equal(t, "정의", *item.ArticleTitle)

	preamble := result.Chunks[0]
	assert.Empty(t, preamble.Breadcrumbs)
	assert.Equal(t, "근로기준법", preamble.DisplayText)

	para := result.Chunks[5]
	assert.Equal(t, []models.Link{{LawName: "최저임금법", ArticleNo: 5}}, para.LinksOut)
}

func TestStatuteTransformer_Idempotent(t *testing.T) {
	tr := newStatuteTransformer(t)

	first, err := tr.Transform(context.Background(), statuteDoc(laborAct))
	require.NoError(t, err)
	second, err := tr.Transform(context.Background(), statuteDoc(laborAct))
	require.NoError(t, err)

	ids := func(r []*models.Chunk) []string {
		out := make([]string, len(r))
		for i, c := range r {
			out[i] = c.ChunkID
		}
		return out
	}
	assert.Equal(t, ids(first.Chunks), ids(second.Chunks))
}

func TestStatuteTransformer_EditedTextKeepsAddress(t *testing.T) {
	tr := newStatuteTransformer(t)

	before, err := tr.Transform(context.Background(), statuteDoc(laborAct))
	require.NoError(t, err)
	edited := strings.Replace(laborAct, "서면으로 한다.", "전자문서로도 할 수 있다.", 1)
	after, err := tr.Transform(context.Background(), statuteDoc(edited))
	require.NoError(t, err)

	require.Equal(t, len(before.Chunks), len(after.Chunks))
	last := len(before.Chunks) - 1
	assert.Equal(t, before.Chunks[last].LogicalKey, after.Chunks[last].LogicalKey)
	assert.NotEqual(t, before.Chunks[last].ChunkID, after.Chunks[last].ChunkID)
	for i := 0; i < last; i++ {
		assert.Equal(t, before.Chunks[i].ChunkID, after.Chunks[i].ChunkID)
	}
}

func TestStatuteTransformer_DropsDuplicateLeaves(t *testing.T) {
	tr := NewStatuteTransformer(duplicatingChunker{}, nil)

	result, err := tr.Transform(context.Background(), statuteDoc(laborAct))
	require.NoError(t, err)
	assert.Len(t, result.Chunks, 7)
	assert.Equal(t, 7, result.Dropped)

	seen := map[string]bool{}
	for _, c := range result.Chunks {
		assert.False(t, seen[c.ChunkID], "duplicate chunk id %s", c.ChunkID)
		seen[c.ChunkID] = true
	}
}

func TestStatuteTransformer_HTMLBody(t *testing.T) {
	tr := newStatuteTransformer(t)

	doc := statuteDoc("")
	doc.BodyHTML = "<p>제1조(목적) 이 법은 기준을 정한다.</p><p>제2조(정의) 용어의 뜻은 다음과 같다.</p>"

	result, err := tr.Transform(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"doc:law_001:0:ch0:art1:para0:item0",
		"doc:law_001:0:ch0:art2:para0:item0",
	}, keys(result.Chunks))
}

func TestStatuteTransformer_Errors(t *testing.T) {
	tr := newStatuteTransformer(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		doc         *models.RawDocument
		expectError error
	}{
		{name: "nil document", doc: nil, expectError: ErrNilDocument},
		{name: "empty body", doc: statuteDoc("  \n "), expectError: ErrEmptyDocument},
		{name: "ruling", doc: &models.RawDocument{Kind: models.KindRuling, Body: "본문"}, expectError: ErrWrongKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tr.Transform(ctx, tt.doc)
			assert.ErrorIs(t, err, tt.expectError)
		})
	}
}

func TestStatuteTransformer_CanceledContext(t *testing.T) {
	tr := newStatuteTransformer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Transform(ctx, statuteDoc(laborAct))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStatuteTransformer_CanTransform(t *testing.T) {
	tr := newStatuteTransformer(t)

	assert.True(t, tr.CanTransform(&models.RawDocument{}))
	assert.True(t, tr.CanTransform(&models.RawDocument{Kind: models.KindStatute}))
	assert.False(t, tr.CanTransform(&models.RawDocument{Kind: models.KindRuling}))
	assert.False(t, tr.CanTransform(nil))
	assert.Equal(t, models.KindStatute, tr.GetDocumentKind())
}

func TestBuildHeader(t *testing.T) {
	doc := &models.RawDocument{
		SourceURL:  " https://law.example.kr/a#frag ",
		Title:      "  근로기준법 ",
		ShortTitle: "근기법",
		Aliases:    []string{"근로기준법", "근기법", "노동기준법"},
		Revision:   "20240101",
	}

	h := BuildHeader(doc, models.KindStatute)
	assert.Equal(t, "근로기준법", h.Title)
	assert.Equal(t, "https://law.example.kr/a", h.SourceURL)
	assert.Equal(t, "20240101", h.Revision)
	assert.Equal(t, []string{"근로기준법", "근기법", "노동기준법"}, h.Aliases)
	assert.Equal(t, "ko", h.Lang)
	assert.NotEmpty(t, h.DocID)
}

func TestExtractLinks(t *testing.T) {
	text := "「근로기준법」 제17조 및 「 근로기준법 」 제17조, 「민법」 제750조에 따른다."
	assert.Equal(t, []models.Link{
		{LawName: "근로기준법", ArticleNo: 17},
		{LawName: "민법", ArticleNo: 750},
	}, ExtractLinks(text))
	assert.Nil(t, ExtractLinks("인용 없음"))
}
