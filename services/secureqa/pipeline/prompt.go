// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/SecureRAG/services/secureqa/datatypes"
)

const groundingInstructions = `Answer the question using ONLY the information in the context below.
If the context does not contain the answer, say so explicitly.
Do not use outside knowledge. Do not speculate.`

// retryAmendment tightens the instructions when a previous attempt failed
// the faithfulness check. The model is told its last answer strayed from the
// evidence, which measurably improves grounding on the second pass.
const retryAmendment = `Your previous answer included claims not supported by the context.
Answer again, citing only facts that appear verbatim or near-verbatim in the context.
Prefer quoting the context directly over paraphrasing.`

// buildPrompt assembles the generation prompt from the sanitized query and
// the cleared evidence. retry selects the stricter instruction variant.
func buildPrompt(query string, chunks []datatypes.RetrievedChunk, maxContextChars int, retry bool) string {
	var b strings.Builder
	b.WriteString(groundingInstructions)
	if retry {
		b.WriteString("\n\n")
		b.WriteString(retryAmendment)
	}
	b.WriteString("\n\nContext:\n")
	b.WriteString(formatContext(chunks, maxContextChars))
	b.WriteString("\nQuestion: ")
	b.WriteString(query)
	b.WriteString("\n\nAnswer:")
	return b.String()
}

// formatContext renders the evidence chunks as numbered sections within a
// character budget. Chunks arrive ordered by similarity, so truncation drops
// the least relevant evidence first.
func formatContext(chunks []datatypes.RetrievedChunk, maxContextChars int) string {
	var b strings.Builder
	for i, chunk := range chunks {
		section := fmt.Sprintf("[%d] %s\n", i+1, strings.TrimSpace(chunk.Text))
		if maxContextChars > 0 && b.Len()+len(section) > maxContextChars {
			break
		}
		b.WriteString(section)
	}
	return b.String()
}
