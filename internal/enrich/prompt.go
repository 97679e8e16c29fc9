package enrich

// PlanPrompt asks for a structured teaching plan for one section.
const PlanPrompt = `Generate a teaching plan for the following book section. Structure it as markdown with these parts:

# Chapter Plan for <number>: <title>

## Chapter Objectives
- Two to four learning objectives for this section.

## Teaching Outline
1. A numbered walk through the section's main ideas, in reading order, with one or two sub-points each.

## Activities and Methods
- Concrete exercises, examples, or discussion prompts grounded in the section content.

## Next Steps
- Homework or follow-up that bridges to the next section.

Keep the plan under 1000 words. Base it only on the provided content; do not invent material the section does not cover.`

// SummaryPrompt asks for a short abstract of one section.
const SummaryPrompt = `Summarize the following book section in at most 100 words. Respond with the summary only, no preamble.`
