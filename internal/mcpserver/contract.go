package mcpserver

// AnswerFormatContract describes the markdown produced for a finished
// research job so that MCP clients can render and post-process it.
const AnswerFormatContract = `# Sift Answer Format

Every finished research job carries one markdown answer and an ordered
citation list.

## Structure

` + "```" + `markdown
# Short title

Paragraphs of synthesized text. Every factual statement ends with a
footnote marker that points at a source, like this [^1] or this [^2].

## References

[^1]: Source title - https://example.org/page
[^2]: Another source - https://example.com/article
` + "```" + `

## Rules

1. Markers use the form ` + "`" + `[^n]` + "`" + `; n is the 1-based index of a citation.
2. The citation list returned with the job has an entry for every index
   used in the body. Citations are ordered by index.
3. When no model output was available the answer lists one
   ` + "`" + `## Source n: Title` + "`" + ` section per passage instead of prose. It follows the
   same marker and reference rules.
4. When nothing relevant was found the answer is a single sentence with no
   markers and the citation list is empty.
`
