package transformers

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/code-sleuth/roeum-go/internal/manager/chunkers"
	"github.com/code-sleuth/roeum-go/internal/manager/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rulingDoc(sections *models.RulingSections, body string) *models.RawDocument {
	return &models.RawDocument{
		SourceURL:   "https://law.example.kr/precInfo?id=77",
		Title:       "대법원 2020다1234",
		Subtitle:    "손해배상(기)",
		ExternalKey: "case:2020다1234",
		Kind:        models.KindRuling,
		Sections:    sections,
		Body:        body,
	}
}

func TestAssembleRuling(t *testing.T) {
	tests := []struct {
		name     string
		sections *models.RulingSections
		body     string
		expected string
	}{
		{
			name: "all sections",
			sections: &models.RulingSections{
				Holdings:    "불법행위의 성립 요건.",
				Summary:     "  과실이 있어야 한다. ",
				ReferredLaw: "민법 제750조",
				Disposition: "상고를 기각한다.",
				Reasoning:   "원심의 판단은 정당하다.",
			},
			expected: "대법원 2020다1234\n(손해배상)\n" +
				"[판시사항]\n불법행위의 성립 요건.\n" +
				"[판결요지]\n과실이 있어야 한다.\n" +
				"[참조조문]\n민법 제750조\n" +
				"[전문]\n[주문]\n상고를 기각한다.\n[이유]\n원심의 판단은 정당하다.",
		},
		{
			name:     "full text fallback",
			sections: &models.RulingSections{FullText: "전문 내용이다."},
			expected: "대법원 2020다1234\n(손해배상)\n[전문]\n전문 내용이다.",
		},
		{
			name:     "body only",
			body:     "판결 본문이다.",
			expected: "대법원 2020다1234\n(손해배상)\n판결 본문이다.",
		},
		{
			name:     "reasoning without disposition",
			sections: &models.RulingSections{Reasoning: "이유만 있다."},
			expected: "대법원 2020다1234\n(손해배상)\n[전문]\n[이유]\n이유만 있다.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AssembleRuling("대법원 2020다1234", "손해배상", tt.sections, tt.body)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestAssembleRuling_NoSubtitle(t *testing.T) {
	got := AssembleRuling("판결", " ", nil, "본문이다.")
	assert.Equal(t, "판결\n본문이다.", got)
}

func TestRulingTransformer_SingleChunk(t *testing.T) {
	chunker, err := chunkers.NewOverlapChunker(1200, 200)
	require.NoError(t, err)
	tr := NewRulingTransformer(chunker, nil)

	doc := rulingDoc(&models.RulingSections{
		Holdings:    "「민법」 제750조의 해석.",
		Disposition: "상고를 기각한다.",
	}, "")

	result, err := tr.Transform(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)

	c := result.Chunks[0]
	assert.Equal(t, 1, c.ChunkNo)
	assert.Equal(t, "case_2020다1234", c.DocID)
	assert.Equal(t, "doc:case_2020다1234:0:ch0:art0:para0:item0", c.LogicalKey)
	assert.Equal(t, []string{"대법원 2020다1234"}, c.Breadcrumbs)
	assert.True(t, strings.HasPrefix(c.DisplayText, "대법원 2020다1234 — 대법원 2020다1234 (손해배상(기))"))
	assert.Contains(t, c.Text, "[판시사항]")
	assert.Equal(t, []models.Link{{LawName: "민법", ArticleNo: 750}}, c.LinksOut)
	assert.Equal(t, models.KindRuling, result.Header.Kind)
}

func TestRulingTransformer_OverlappingChunks(t *testing.T) {
	chunker, err := chunkers.NewOverlapChunker(60, 20)
	require.NoError(t, err)
	tr := NewRulingTransformer(chunker, nil)

	var body strings.Builder
	for i := 1; i <= 12; i++ {
		fmt.Fprintf(&body, "%d번째 상고이유는 받아들일 수 없다. ", i)
	}

	result, err := tr.Transform(context.Background(), rulingDoc(nil, body.String()))
	require.NoError(t, err)
	require.Greater(t, len(result.Chunks), 2)

	key := result.Chunks[0].LogicalKey
	ids := map[string]bool{}
	for i, c := range result.Chunks {
		assert.Equal(t, i+1, c.ChunkNo)
		assert.Equal(t, key, c.LogicalKey)
		assert.False(t, ids[c.ChunkID], "chunk %d repeats an id", i)
		ids[c.ChunkID] = true
		assert.LessOrEqual(t, len([]rune(c.Text)), 60)
	}

	// Consecutive chunks share the carried sentence.
	assert.Contains(t, result.Chunks[1].Text, "받아들일 수 없다.")
}

func TestRulingTransformer_Errors(t *testing.T) {
	chunker, err := chunkers.NewOverlapChunker(1200, 200)
	require.NoError(t, err)
	tr := NewRulingTransformer(chunker, nil)

	tests := []struct {
		name        string
		doc         *models.RawDocument
		expectError error
	}{
		{name: "nil document", doc: nil, expectError: ErrNilDocument},
		{name: "no content", doc: rulingDoc(&models.RulingSections{}, " "), expectError: ErrEmptyDocument},
		{name: "statute", doc: &models.RawDocument{Kind: models.KindStatute, Body: "제1조 본문"}, expectError: ErrWrongKind},
		{name: "missing kind", doc: &models.RawDocument{Body: "본문"}, expectError: ErrWrongKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tr.Transform(context.Background(), tt.doc)
			assert.ErrorIs(t, err, tt.expectError)
		})
	}
}
