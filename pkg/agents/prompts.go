package agents

// NotFoundPhrase is the abstention marker shared by the scribe's fallback
// template and the critic's short-circuit. Matched case-insensitively.
const NotFoundPhrase = "not found in material"

// Fixed user-facing replies
const (
	studentGreeting = "👋 Hello! I'm your **Student Study Assistant**.\n\n" +
		"I help you learn from your textbooks and notes. Upload a PDF and ask me questions!"

	researchGreeting = "👋 Hello! I'm your **Research Assistant**.\n\n" +
		"I can help you explore academic literature, compare papers, and discover research insights. " +
		"Ask me about any research topic!"

	feedbackReply = "Glad I could help!\n\n" +
		"Feel free to ask follow-up questions or explore new topics."

	studentNotFound = "**Not found in material.**\n\n" +
		"I couldn't find relevant information in your uploaded document. " +
		"Try rephrasing your question or check the uploaded material to see if the topic is covered."

	researchNotFound = "**No research papers found.**\n\n" +
		"I couldn't find relevant research papers for this query.\n\n" +
		"**Try:**\n" +
		"- Using different keywords\n" +
		"- Being more specific with technical terms\n" +
		"- Checking spelling and formatting"

	criticRejection = "❌ **Not found in material.**\n\n" +
		"The answer cannot be reliably determined from your uploaded document."

	referencesHeader = "\n\n---\n\n## 📚 References\n\n"
)

// Prompt templates
const (
	analystPrompt = `You are analyzing source material for a question-answering system.

Recent Conversation:
%s

Retrieved Sources:
%s

Current Question:
%s

Task:
Extract and organize the most relevant information that directly answers the question.
Preserve important details, definitions, examples, and context.
Do NOT add external knowledge. Extract only relevant information.
Maximum 800 words.

Analysis:
`

	researchAnswerPrompt = `You are an advanced Research Assistant producing academic-quality reports.
%s
Retrieved Research Content:
%s

Current Question:
%s

Instructions:
1. Structure: organize the response with Markdown headers (##, ###):
   - Executive Summary: a concise 2-3 sentence overview.
   - Key Findings: bullet points distinguishing consensus from debate.
   - Deep Dive: detailed synthesis of the retrieved content.
   - Methodology (if applicable): compare the approaches found in the papers.
2. Citations: use inline citations such as [1] or [1, 2] that refer to the numbered content above.
   Cite only indices between 1 and %d.
3. Tone: objective, professional and analytical.
4. Do NOT include a "References" section at the end; it is added automatically.

Answer:
`

	studentAnswerPrompt = `You are an expert University Tutor. Explain the concept from the provided textbook material with clarity and structure.
%s
Textbook Content:
%s

Student Question:
%s

Instructions:
1. Explain the concept step by step.
2. Use exactly these sections:
   ## Core Concept
   ## Detailed Explanation
   ## Examples
   ## Key Takeaways
3. Use **bold** for vocabulary terms and lists for steps.
4. Answer ONLY from the provided context.

Answer:
`

	criticPrompt = `You are validating if a student's answer is grounded in textbook content.

Textbook Content:
%s

Student Answer:
%s

Evaluate:
1. Is the answer supported by the textbook? (yes/no)
2. Grounding percentage (0-100): how much of the answer comes from the textbook?
3. Brief reason (one sentence)

Respond ONLY with valid JSON:
{"status": "approved" or "rejected", "grounding": number, "reason": "brief reason"}
`

	oraclePrompt = `You are an Exam Pattern Oracle for Anna University students.
Subject: %[1]s
Time Range: Last 5 Years

Search Results:
%[2]s

Instructions:
- Identify recurring questions from the last 5 years only.
- Provide exactly 10 questions for Part A and 10 questions for Part B/C.
- For EVERY question include the years it was asked, how often it appeared and the regulation.
- Format strictly in Markdown.

Output Format:
# Exam Predictor: %[1]s (5-Year Analysis)

## Part A (2-Marks) - Top 10
1. **[Question]**
   - Years: [Years] | Frequency: [N] times | Regulation: [Reg]

## Part B & C (13/15-Marks) - Top 10
1. **[Question]**
   - Years: [Years] | Frequency: [N] times | Regulation: [Reg]

## Disclaimer
Predictions based on last 5 years historical data.
`

	cartographerPrompt = `You are an expert Educational Content Architect. Turn the text below into a structured study guide and a conceptual mind map.

Source Material:
%s

Requirements:
1. Flashcards: identify 3-8 key concepts. For each give a title, a one-sentence definition,
   a concrete example, a takeaway and a relevant icon name.
2. Mind map: a concise center title and 4-10 nodes, each with an id, a short label and a
   one-line description.

Output strictly one valid JSON object and nothing else:
{
  "study_cards": [
    {"title": "Concept", "definition": "...", "example": "...", "takeaway": "...", "icon": "rocket"}
  ],
  "mind_map": {
    "center": "Top-level Topic",
    "nodes": [{"id": "1", "label": "Subtopic A", "description": "..."}]
  }
}

JSON Output:
`
)
