package models

const (
	// SectionHeadingRegex is formatted with the alternation of configured labels.
	SectionHeadingRegex = `(?i)^\s*(%s)\b`
	ArticleRegex        = `(?i)\bart(?:[íi]culos?|s?\.)?\s*(\d{1,4})\b`
	// URLRegex also matches scheme-less host.tld/path and host.tld?query forms.
	URLRegex         = `(?i)(?:\b(?:https?://|www\.)|\b(?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,24}[/?])[^\s<>()\[\]"']*`
	ThinkTag         = `(?s)<think>.*?</think>`
	ContextSeparator = "\n---\n"
	BodySection      = "Body"
)

const (
	InsufficientContextAnswer = "No se encontraron antecedentes suficientes en la base de jurisprudencia para responder esta consulta con respaldo. Probá reformular la pregunta o ampliar los filtros."
	ProviderUnavailableAnswer = "El servicio de generación no está disponible en este momento. Se listan las fuentes encontradas para tu consulta; intentá nuevamente en unos minutos."
)

var (
	SystemPrompt = `Sos un asistente jurídico para investigación de jurisprudencia argentina. Respondé en español claro, formal y preciso.
Reglas obligatorias:
- Cada afirmación fáctica o jurídica debe llevar la etiqueta de su fuente entre corchetes exactamente como aparece en el contexto, por ejemplo [Source 2] o [Doc 1].
- Nunca escribas URLs, enlaces ni direcciones web en la respuesta. Las fuentes se entregan por separado.
- No inventes jurisprudencia, normas ni citas. Si el contexto es insuficiente, decilo explícitamente.`

	AnswerInstructions = `Instrucciones de redacción:
- Redactá una respuesta estructurada en párrafos, con tono de análisis jurídico, sin listas numeradas ni sección de "Citas".
- Etiquetá cada afirmación con [Source N] (jurisprudencia y doctrina, web) o [Doc N] (documentos de la causa).
- Si los fragmentos no son concluyentes, explicá brevemente por qué.
- No incluyas URLs bajo ninguna forma.`

	SummaryPromptTemplate = `Resumí la siguiente conversación entre un abogado y un asistente jurídico en no más de %d caracteres.
Conservá los temas, normas, tribunales y conclusiones mencionados. No agregues información nueva.
%s
<conversation>
%s
</conversation>`

	VerifierPromptTemplate = `Sos un verificador estricto de factualidad. Revisá la RESPUESTA contra los FRAGMENTOS y detectá afirmaciones no soportadas, datos inconsistentes u omisiones críticas.
Respondé SOLO en JSON con la forma:
{"verdict":"ok|warning|fail","issues":[{"type":"unsupported|inconsistent|omission","detail":"..."}]}

RESPUESTA:
%s

FRAGMENTOS:
%s`
)
