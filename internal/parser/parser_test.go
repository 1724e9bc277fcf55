package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractText_HTML(t *testing.T) {
	doc := `<html><head><style>p{color:red}</style><script>var x=1;</script></head>
<body><h1>Fallo</h1><p>Hacer lugar a la demanda.</p></body></html>`

	out, err := ExtractText("sentencia.html", []byte(doc))
	require.NoError(t, err)
	assert.Contains(t, out, "Fallo")
	assert.Contains(t, out, "Hacer lugar a la demanda.")
	assert.NotContains(t, out, "color")
	assert.NotContains(t, out, "var x")
}

func TestExtractText_Markdown(t *testing.T) {
	doc := "# Considerandos\n\nQue la **actora** reclama [el certificado](https://example.com).\n"

	out, err := ExtractText("nota.md", []byte(doc))
	require.NoError(t, err)
	assert.Contains(t, out, "Considerandos")
	assert.Contains(t, out, "Que la actora reclama el certificado.")
	assert.NotContains(t, out, "https://")
}

func TestExtractText_PlainAndUnsupported(t *testing.T) {
	out, err := ExtractText("a.TXT", []byte("hola"))
	require.NoError(t, err)
	assert.Equal(t, "hola", out)

	_, err = ExtractText("a.exe", []byte("x"))
	assert.Error(t, err)
}

func TestExtractFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fallo.txt")
	require.NoError(t, os.WriteFile(path, []byte("Vistos los autos"), 0o644))

	out, err := ExtractFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Vistos los autos", out)
}
