// Package prompt renders the generation requests for a city.
//
// Both requests are deterministic functions of the city fields. City values
// are placed inside XML tags (escaped) so they cannot rewrite the
// instructions, and JSON-quoted inside the literal output shape.
package prompt

import (
	"encoding/json"
	"strings"

	"github.com/ajitpratap0/cityscope/pkg/xmlutil"
)

const (
	// MinListItems and MaxListItems bound the landmarks and myths lists.
	MinListItems = 3
	MaxListItems = 5

	// NewsWindow and EventsWindow describe the fresh-pass recency window.
	NewsWindow   = "the past 1-2 weeks"
	EventsWindow = "the next 30 days"

	// FreshRecency is the provider-side recency filter for the fresh pass.
	FreshRecency = "week"
)

// System is the standing instruction given to every generation provider.
const System = "You are a meticulous researcher for city pages. Search the web and compile factual, " +
	"neutral, well-sourced content. Return ONLY valid JSON matching the provided shape. No prose. " +
	"Always include 'sources' with title, url, and date when available. Dates must be ISO (YYYY-MM-DD or full ISO)."

// Core renders the core-profile request.
func Core(name, continent, country string) string {
	shape := `{
  "city": ` + quote(name) + `,
  "country": ` + quote(country) + `,
  "continent": ` + quote(continent) + `,
  "history": "A detailed paragraph about the city's history.",
  "geography": "A detailed paragraph about the city's geography and climate.",
  "demographics": "A detailed paragraph about the city's population and demographics.",
  "economy": "A detailed paragraph about the city's economy and primary industries.",
  "landmarks": ["List of 3-5 notable landmarks"],
  "myths": ["List of 3-5 local myths or famous stories"],
  "latestNews": [],
  "upcomingEvents": [],
  "sources": [{"title": string, "url": string, "date": string | null}],
  "generatedAt": "An ISO timestamp string"
}`
	return lines(
		"TASK: Compile a rich and detailed profile for the city below. Search the web for high-quality, factual information.",
		"CITY: "+xmlutil.Tag("city", name),
		"COUNTRY: "+xmlutil.Tag("country", country),
		"CONTINENT: "+xmlutil.Tag("continent", continent),
		"INSTRUCTIONS:",
		"1. For 'history', 'geography', 'demographics', and 'economy' you MUST write a detailed, informative paragraph each. Do not leave these fields empty.",
		"2. For 'landmarks' and 'myths' provide between 3 and 5 interesting items each.",
		"3. Leave 'latestNews' and 'upcomingEvents' as empty arrays.",
		"4. Return ONLY a single valid JSON object with exactly the fields below. No prose, commentary, or markdown formatting.",
		"OUTPUT:",
		shape,
	)
}

// Fresh renders the time-sensitive request for news and events.
func Fresh(name string) string {
	shape := `{
  "latestNews": [{"title": string, "url": string, "date": string}],
  "upcomingEvents": [{"name": string, "date": string | "" | null, "url": string | null}],
  "sources": [{"title": string, "url": string, "date": string | null}]
}`
	return lines(
		"TASK: Find the latest news about the city from "+NewsWindow+" and upcoming events within "+EventsWindow+".",
		"CITY: "+xmlutil.Tag("city", name),
		"Only include news published within "+NewsWindow+" and events taking place within "+EventsWindow+". Use empty arrays when nothing qualifies.",
		"OUTPUT: Return ONLY a JSON object with exactly these fields:",
		shape,
		"No markdown. No commentary. No trailing commas.",
	)
}

func lines(parts ...string) string {
	return strings.Join(parts, "\n")
}

// quote renders s as a JSON string literal.
func quote(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}
