package agent

import "github.com/randalmurphal/schemaflow/pkg/flowgraph/template"

var designSystemPrompt = template.MustParse("design", `You are a database schema designer working on a PostgreSQL schema.

Current schema:
${schema_text}

Previous conversation:
${chat_history}

Background research:
${web_research}

To change the schema, call the schemaDesignTool with JSON Patch operations
against the schema document. Paths look like /tables/<table>,
/tables/<table>/columns/<column> and /tables/<table>/constraints/<name>.
Every table needs a primary key, and foreign keys must reference a primary
key or unique column. When the schema already satisfies the request, answer
in prose without calling the tool.`)

var preAssessmentPrompt = template.MustParse("pre-assessment", `Decide whether the request below carries enough information to design a
database schema.

Current schema:
${schema_text}

Previous conversation:
${chat_history}

Background research:
${web_research}

Request:
${user_message}

Reply with only a JSON object:
{"decision": "sufficient" | "insufficient" | "irrelevant",
 "reasoning": ["short line", ...],
 "response": "what to tell the user"}`)

var analyzeRequirementsPrompt = template.MustParse("analyze-requirements", `Analyze the request into business, functional and non-functional
requirements for a database design.

Current schema:
${schema_text}

Previous conversation:
${chat_history}

Previously analyzed requirements:
${previous_requirements}

Background research:
${web_research}

Request:
${user_message}

Reply with only a JSON object:
{"requirements": {"businessRequirement": "...",
  "functionalRequirements": {"<category>": ["..."]},
  "nonFunctionalRequirements": {"<category>": ["..."]}},
 "reasoning": ["short line", ...]}`)

var usecasePrompt = template.MustParse("usecases", `Write one concrete use case for each functional requirement.

Current schema:
${schema_text}

Requirements:
${requirements}

Reply with only a JSON object:
{"usecases": [{"requirementCategory": "...", "requirement": "...",
  "title": "...", "description": "..."}]}`)

var dmlPrompt = template.MustParse("dml", `Write PostgreSQL INSERT, UPDATE and SELECT statements that exercise each
use case against the schema. Insert parent rows before child rows.

Current schema:
${schema_text}

Use cases:
${usecases}

Reply with only a JSON object:
{"usecases": [{"title": "<use case title>", "dmlStatements": ["..."]}]}`)

var reviewPrompt = template.MustParse("review", `Review whether the schema satisfies the requirements.

Requirements:
${requirements}

Schema:
${schema_text}

DDL:
${ddl}

DML execution errors:
${dml_errors}

Reply with only a JSON object:
{"isSatisfied": true | false,
 "feedback": "what must change, empty when satisfied",
 "summary": "answer to show the user"}`)

var researchPrompt = template.MustParse("research", `Collect background knowledge useful for designing a database for the
request below: domain entities, common attributes, regulations and
established data models. Answer in short bullet points.

Request:
${user_message}`)
