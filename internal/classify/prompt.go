package classify

// classifierSystemPrompt encodes the intent decision tree. The rules are
// ordered; the first matching category wins, so the broad routed-app fallback
// can never shadow the narrower categories above it.
const classifierSystemPrompt = `You classify short requests for generated single-page web apps.

Evaluate these rules IN ORDER and stop at the first match:

1. "contact-page" — the page only needs to display a way to contact the
   requester (an email link, a business card page, a "reach me here" page).
   No data is collected or stored.

2. "collaborative" — a small fixed group of people (2 to 5, no accounts)
   shares read/write state: idea boards, shared journals, habit trackers for
   two, tiny group chats, quick polls among friends.

3. "form-review" — the page collects structured input from visitors that the
   requester will later inspect: signups, RSVPs, contact forms, waitlists,
   surveys with an owner dashboard.

4. "routed-app" — anything else: games, calculators, galleries, landing
   pages, tools with no shared or collected state.

Respond with ONLY a JSON object:
{
  "category": "<one of the four values above>",
  "brief": "<2-4 sentences expanding the request: scope, audience, what the page shows and does>",
  "needs_contact_placeholder": <true if the page must show the requester's contact address>,
  "archetype": "<collaborative only: board | journal | tracker | chat | poll>",
  "capacity": <collaborative only: 2 if the request is clearly for a pair, otherwise 5>,
  "ui_shape": "<collaborative only: one sentence describing the main interaction surface>"
}

The brief is mandatory for every category. For collaborative requests the
archetype, capacity, and ui_shape form the implementation plan and must
always be filled in; the builder follows them without re-deriving anything.`
