package models

// NewsItem is a dated article or citation. Sources use the same shape.
type NewsItem struct {
	Title string  `json:"title" bson:"title"`
	URL   string  `json:"url" bson:"url"`
	Date  *string `json:"date,omitempty" bson:"date,omitempty"`
}

// EventItem is an upcoming event in the city.
type EventItem struct {
	Name string  `json:"name" bson:"name"`
	Date *string `json:"date,omitempty" bson:"date,omitempty"`
	URL  *string `json:"url,omitempty" bson:"url,omitempty"`
}

// CityContent is the generated payload stored on a ready city.
// Each generation replaces it wholesale.
type CityContent struct {
	City           string      `json:"city" bson:"city"`
	Country        *string     `json:"country,omitempty" bson:"country,omitempty"`
	Continent      string      `json:"continent" bson:"continent"`
	History        string      `json:"history" bson:"history"`
	Geography      string      `json:"geography" bson:"geography"`
	Demographics   string      `json:"demographics" bson:"demographics"`
	Economy        string      `json:"economy" bson:"economy"`
	Landmarks      []string    `json:"landmarks" bson:"landmarks"`
	Myths          []string    `json:"myths" bson:"myths"`
	LatestNews     []NewsItem  `json:"latestNews" bson:"latestNews"`
	UpcomingEvents []EventItem `json:"upcomingEvents" bson:"upcomingEvents"`
	Sources        []NewsItem  `json:"sources" bson:"sources"`
	GeneratedAt    string      `json:"generatedAt" bson:"generatedAt"`
}

// Clone returns a deep copy of the content.
func (c CityContent) Clone() CityContent {
	if c.Country != nil {
		s := *c.Country
		c.Country = &s
	}
	c.Landmarks = append([]string{}, c.Landmarks...)
	c.Myths = append([]string{}, c.Myths...)
	c.LatestNews = CloneNews(c.LatestNews)
	c.Sources = CloneNews(c.Sources)
	c.UpcomingEvents = CloneEvents(c.UpcomingEvents)
	return c
}

// CloneEvents deep-copies an event list. The result is never nil.
func CloneEvents(in []EventItem) []EventItem {
	out := make([]EventItem, len(in))
	for i, ev := range in {
		ev.Date = cloneStr(ev.Date)
		ev.URL = cloneStr(ev.URL)
		out[i] = ev
	}
	return out
}

// CloneNews deep-copies a news or source list. The result is never nil.
func CloneNews(in []NewsItem) []NewsItem {
	out := make([]NewsItem, len(in))
	for i, n := range in {
		n.Date = cloneStr(n.Date)
		out[i] = n
	}
	return out
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
