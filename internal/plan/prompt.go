package plan

// clarifyPrompt is the prompt template for the clarification round.
const clarifyPrompt = `You are planning how to split a task across several autonomous workers.

Task:
%s

Clarifications provided so far:
%s

If the task is specific enough to plan, reply with the single word CLEAR.
Otherwise return ONLY a JSON array of the questions that must be answered
first, for example: ["Which database should the service use?"]. Ask at most
three questions, and only about details that change the shape of the plan.`

// planPrompt is the prompt template for task decomposition.
const planPrompt = `Break this task into units of work for a pool of autonomous workers.
Units whose dependencies allow it run in parallel.

Task:
%s

Clarifications:
%s

Return ONLY a JSON array with this exact structure (no other text):
[
  {
    "title": "Short unit title",
    "prompt": "Complete instructions for the worker executing this unit",
    "role": "coder",
    "priority": 0,
    "depends_on": ["title of another unit"]
  }
]

Guidelines:
- Keep units as independent as possible; add a dependency only when one unit
  truly needs another's output.
- Each unit must be completable by a single worker in one session.
- The prompt must stand alone: a worker sees nothing but its own prompt.
- Higher priority runs first when several units are ready; 0 is fine for most.
- Use [] for depends_on when there are none.`
