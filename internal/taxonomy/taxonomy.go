// Package taxonomy holds the static zone and vibe tables used to match
// free-text catalog categories.
package taxonomy

import (
	"strings"

	"github.com/example/activity-radar/internal/models"
)

// Zone groups raw category tags under one normalized id. An item belongs
// to a zone when any of its lowercased categories contains a synonym.
type Zone struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Emoji    string   `json:"emoji"`
	Synonyms []string `json:"synonyms"`
}

// Vibe is a personality filter matched against categories, title and blurb.
type Vibe struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Emoji    string   `json:"emoji"`
	Keywords []string `json:"keywords"`
}

var zones = []Zone{
	{ID: "sport", Label: "Спорт", Emoji: "⚽", Synonyms: []string{"спорт", "футбол", "баскетбол", "плаван", "танц", "йог", "борьб", "sport", "fitness", "climb"}},
	{ID: "art", Label: "Творчество", Emoji: "🎨", Synonyms: []string{"творч", "рисов", "искусств", "живопис", "театр", "фото", "дизайн", "art", "craft"}},
	{ID: "music", Label: "Музыка", Emoji: "🎸", Synonyms: []string{"музык", "вокал", "гитар", "хор", "music", "band"}},
	{ID: "it", Label: "IT", Emoji: "💻", Synonyms: []string{"it", "программ", "робот", "код", "gamedev", "coding", "tech"}},
	{ID: "science", Label: "Наука", Emoji: "🔬", Synonyms: []string{"наук", "физик", "хими", "биолог", "математ", "science", "stem"}},
	{ID: "languages", Label: "Языки", Emoji: "🗣️", Synonyms: []string{"язык", "английск", "разговорн", "language", "english"}},
	{ID: "volunteer", Label: "Волонтёрство", Emoji: "🤝", Synonyms: []string{"волонт", "эколог", "помощ", "volunteer", "charity"}},
	{ID: "games", Label: "Игры", Emoji: "🎲", Synonyms: []string{"игр", "настолк", "квест", "game", "board"}},
	{ID: "outdoor", Label: "На природе", Emoji: "🏕️", Synonyms: []string{"поход", "туризм", "природ", "лагер", "hike", "outdoor", "camp"}},
	{ID: "social", Label: "Общение", Emoji: "💬", Synonyms: []string{"клуб", "общен", "дебат", "сообществ", "community", "club", "meetup"}},
}

var vibes = []Vibe{
	{ID: "introvert", Label: "Интроверт", Emoji: "📚", Keywords: []string{"книг", "чтен", "онлайн", "рисов", "шахмат", "программ", "тих", "book", "online", "chess"}},
	{ID: "active", Label: "Активный", Emoji: "⚡", Keywords: []string{"спорт", "танц", "поход", "футбол", "бег", "паркур", "sport", "dance", "run"}},
	{ID: "creative", Label: "Креативный", Emoji: "🎨", Keywords: []string{"творч", "рисов", "музык", "театр", "фото", "видео", "art", "music", "design"}},
	{ID: "geek", Label: "Гик", Emoji: "🤓", Keywords: []string{"программ", "робот", "наук", "it", "игр", "аниме", "code", "robot", "game"}},
	{ID: "social", Label: "Тусовщик", Emoji: "🎉", Keywords: []string{"клуб", "общен", "дебат", "волонт", "сообществ", "вечеринк", "club", "community"}},
}

var (
	zonesByID = indexZones(zones)
	vibesByID = indexVibes(vibes)
)

func indexZones(zs []Zone) map[string]Zone {
	m := make(map[string]Zone, len(zs))
	for _, z := range zs {
		m[z.ID] = z
	}
	return m
}

func indexVibes(vs []Vibe) map[string]Vibe {
	m := make(map[string]Vibe, len(vs))
	for _, v := range vs {
		m[v.ID] = v
	}
	return m
}

// Zones returns the zone table in display order.
func Zones() []Zone {
	out := make([]Zone, len(zones))
	copy(out, zones)
	return out
}

// Vibes returns the vibe table in display order.
func Vibes() []Vibe {
	out := make([]Vibe, len(vibes))
	copy(out, vibes)
	return out
}

func LookupZone(id string) (Zone, bool) {
	z, ok := zonesByID[id]
	return z, ok
}

func LookupVibe(id string) (Vibe, bool) {
	v, ok := vibesByID[id]
	return v, ok
}

// Matches reports whether a lowercased category contains any synonym.
func (z Zone) Matches(categories []string) bool {
	for _, c := range categories {
		lc := strings.ToLower(c)
		for _, syn := range z.Synonyms {
			if strings.Contains(lc, syn) {
				return true
			}
		}
	}
	return false
}

// MatchZones reports whether the item belongs to at least one of the
// selected zones. Unknown zone ids never match.
func MatchZones(it models.Item, zoneIDs []string) bool {
	for _, id := range zoneIDs {
		if z, ok := LookupZone(id); ok && z.Matches(it.Categories) {
			return true
		}
	}
	return false
}

// ZonesOf lists the ids of every zone the categories fall into.
func ZonesOf(categories []string) []string {
	var out []string
	for _, z := range zones {
		if z.Matches(categories) {
			out = append(out, z.ID)
		}
	}
	return out
}

// SearchText is the lowercased haystack used for vibe matching.
func SearchText(it models.Item) string {
	var b strings.Builder
	for _, c := range it.Categories {
		b.WriteString(c)
		b.WriteByte(' ')
	}
	b.WriteString(it.Title)
	b.WriteByte(' ')
	b.WriteString(it.Blurb)
	return strings.ToLower(b.String())
}

// MatchVibe reports whether any keyword of the vibe occurs in the item text.
func MatchVibe(it models.Item, vibeID string) bool {
	v, ok := vibesByID[vibeID]
	if !ok {
		return false
	}
	text := SearchText(it)
	for _, kw := range v.Keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
