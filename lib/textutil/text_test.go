package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "fluval filter", NormalizeText("  Fluval   Filter"))
	assert.Equal(t, "fluval filter", NormalizeText("fluval filter"))
	assert.Equal(t, "a b c", NormalizeText("A\tB\n\nC "))
	assert.Equal(t, "", NormalizeText("   "))
}

func TestExtractImageURL(t *testing.T) {
	doc, err := ParseHTML(`<p>Great deal <img src="https://img.example.com/a.jpg"> today</p>`)
	require.NoError(t, err)
	assert.Equal(t, "https://img.example.com/a.jpg", ExtractImageURL(doc))

	doc, err = ParseHTML(`<html><head><meta property="og:image" content="https://og.example.com/b.png"></head>` +
		`<body><img src="https://img.example.com/a.jpg"></body></html>`)
	require.NoError(t, err)
	assert.Equal(t, "https://og.example.com/b.png", ExtractImageURL(doc))

	doc, err = ParseHTML(`<p>no images</p>`)
	require.NoError(t, err)
	assert.Equal(t, "", ExtractImageURL(doc))
}

func TestPlainText(t *testing.T) {
	assert.Equal(t, "Now $19.99 was $29.99", PlainText("<b>Now</b> $19.99 <i>was</i>  $29.99"))
}
