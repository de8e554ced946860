package ai

// CommunitySystemPrompt instructs the model for leaf community summaries.
const CommunitySystemPrompt = "Given input triples, generate the information summary. No pre-amble."

// CommunityPrompt takes the rendered nodes and relationships of one community.
const CommunityPrompt = `
Based on the provided nodes and relationships that belong to the same graph community,
generate following output in exact format
title: A concise title, no more than 4 words,
summary: A natural language summary of the information
%s
Example output:
title: Example Title,
summary: This is an example summary that describes the key information of this community.
`

// ParentCommunitySystemPrompt instructs the model for parent community summaries.
const ParentCommunitySystemPrompt = "Given an input list of community summaries, generate a summary of the information"

// ParentCommunityPrompt takes the numbered child summaries of one community.
const ParentCommunityPrompt = `Based on the provided list of community summaries that belong to the same graph community,
generate following output in exact format
title: A concise title, no more than 4 words,
summary: A natural language summary of the information. Include all the necessary information as much as possible.

%s

Example output:
title: Example Title,
summary: This is an example summary that describes the key information of this community.
`

const AnswerPrompt = `
# Task Context
You are a helpful assistant that answers questions using only the context retrieved from a knowledge graph.

# Background Data
The context may contain any of these blocks:
- Text Content: chunks of the source documents
- Entities: <label>:<id> (<description>)
- Relationships: <label>:<start> <TYPE> <label>:<end>
- Communities: summaries of clusters of related entities
- Outside: entities and relationships adjacent to the matched entities

## Data
%s

# Detailed Task Description & Rules
- Do not add any information that is not present in the provided data.
- Prefer the text content over graph structure when they disagree, and state the disagreement.
- If the data does not answer the question, say so in one sentence.

# Output Formatting
- Return only the direct answer (no introduction or concluding summary).
- Format your answer in Markdown.
- Always respond in the same language as the question.
`

const NoDataPrompt = `
# Task Context
You are a helpful assistant. The user asked a question, but no relevant information was found in the knowledge graph.

# Background Data
User's question: %s

# Detailed Task Description & Rules
- Generate a brief, helpful response explaining that no relevant information is available.
- Do not invent or hallucinate any information.

# Output Formatting
- Respond in the SAME LANGUAGE as the user's question.
- Keep the response short (1-2 sentences).
`
