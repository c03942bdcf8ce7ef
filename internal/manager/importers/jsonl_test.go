package importers

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/code-sleuth/roeum-go/internal/manager/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLines = `{"source_url":"https://law.example/1","title":"근로기준법","body":"제1조(목적) 이 법은 근로조건의 기준을 정한다.","kind":"statute","external_key":"law:001"}

{"source_url":"https://law.example/case/1","title":"대법원 2020다1234","kind":"ruling","sections":{"holdings":"손해배상의 범위"}}
not json at all
{"body":"no url and no title"}
{"source_url":"https://law.example/2","title":"최저임금법","body":"제1조(목적) 최저임금을 정한다."}
`

func collect(out chan *models.RawDocument) []*models.RawDocument {
	var docs []*models.RawDocument
	for {
		select {
		case d := <-out:
			docs = append(docs, d)
		default:
			return docs
		}
	}
}

func TestJSONLImporter_ImportReader(t *testing.T) {
	importer := NewJSONLImporter()
	out := make(chan *models.RawDocument, 10)

	result, err := importer.ImportReader(context.Background(), strings.NewReader(sampleLines), "sample", out)
	require.NoError(t, err)

	assert.Equal(t, "sample", result.Source)
	assert.Equal(t, 3, result.Documents)
	assert.Equal(t, 2, result.Skipped)

	docs := collect(out)
	require.Len(t, docs, 3)
	assert.Equal(t, "근로기준법", docs[0].Title)
	assert.Equal(t, models.KindStatute, docs[0].Kind)
	assert.Equal(t, "law:001", docs[0].ExternalKey)
	assert.Equal(t, models.KindRuling, docs[1].Kind)
	require.NotNil(t, docs[1].Sections)
	assert.Equal(t, "손해배상의 범위", docs[1].Sections.Holdings)
	assert.Equal(t, "최저임금법", docs[2].Title)
}

func TestJSONLImporter_ImportFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "laws.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(sampleLines), 0o600))

	importer := NewJSONLImporter()
	out := make(chan *models.RawDocument, 10)

	result, err := importer.Import(context.Background(), path, out)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Documents)
	assert.Len(t, collect(out), 3)
}

func TestJSONLImporter_ImportStdin(t *testing.T) {
	importer := NewJSONLImporter()
	importer.stdin = strings.NewReader(sampleLines)
	out := make(chan *models.RawDocument, 10)

	result, err := importer.Import(context.Background(), StdinSource, out)
	require.NoError(t, err)
	assert.Equal(t, StdinSource, result.Source)
	assert.Equal(t, 3, result.Documents)
}

func TestJSONLImporter_CanceledContext(t *testing.T) {
	importer := NewJSONLImporter()
	// Unbuffered and never read: the first send can only end by cancellation.
	out := make(chan *models.RawDocument)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := importer.ImportReader(ctx, strings.NewReader(sampleLines), "sample", out)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, result.Documents)
}

func TestJSONLImporter_ValidateSource(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "laws.jsonl")
	require.NoError(t, os.WriteFile(file, []byte("{}\n"), 0o600))

	importer := NewJSONLImporter()

	tests := []struct {
		name        string
		source      string
		expectError bool
		expectedErr error
	}{
		{name: "stdin", source: StdinSource},
		{name: "regular file", source: file},
		{name: "empty", source: "  ", expectError: true, expectedErr: ErrSourceEmpty},
		{name: "directory", source: dir, expectError: true, expectedErr: ErrNotAFile},
		{name: "missing file", source: filepath.Join(dir, "missing.jsonl"), expectError: true, expectedErr: os.ErrNotExist},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := importer.ValidateSource(tt.source)
			if !tt.expectError {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.expectedErr)
		})
	}
}

func TestDecodeRecord(t *testing.T) {
	_, err := decodeRecord([]byte(`{"body":"x"}`))
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, err = decodeRecord([]byte(`{"title":`))
	assert.Error(t, err)

	doc, err := decodeRecord([]byte(`{"title":"민법","aliases":["민"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"민"}, doc.Aliases)
}

func TestImporterSourceTypes(t *testing.T) {
	assert.Equal(t, "jsonl", NewJSONLImporter().GetSourceType())
	assert.Equal(t, "http", NewHTTPImporter().GetSourceType())
	assert.Equal(t, "spool", NewSpoolImporter().GetSourceType())
}
