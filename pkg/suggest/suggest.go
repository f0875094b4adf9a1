// Package suggest derives prompt shortcuts for the chat input from the
// active mode and the known client names. Pure: no state, no I/O; the
// random source is injected so output is deterministic under a fixed seed.
package suggest

import (
	"math/rand"
	"strings"

	"meddoc-assistant-be/internal/entity"
)

// NamePlaceholder marks where a client name may be substituted. Left intact
// when no names are known, so the UI can prompt for a selection.
const NamePlaceholder = "[cliëntnaam]"

type category struct {
	name     string
	variants []string
}

// Fixed categories per mode, one suggestion drawn per category.
var catalogue = map[entity.DocumentSourceMode][]category{
	entity.ModeUploaded: {
		{name: "medicatie", variants: []string{
			"Wat zijn de medicijnen van " + NamePlaceholder + "?",
			"Welke medicatiewijzigingen zijn er voor " + NamePlaceholder + "?",
		}},
		{name: "indicaties", variants: []string{
			"Wanneer verlopen de indicaties van " + NamePlaceholder + "?",
		}},
		{name: "samenvatting", variants: []string{
			"Vat het zorgplan van " + NamePlaceholder + " samen.",
			"Geef een samenvatting van de geüploade documenten.",
		}},
	},
	entity.ModeDatabase: {
		{name: "documenten", variants: []string{
			"Welke documenten heeft deze cliënt?",
		}},
		{name: "facturen", variants: []string{
			"Welke facturen staan nog open voor " + NamePlaceholder + "?",
			"Wat is het openstaande bedrag van " + NamePlaceholder + "?",
		}},
		{name: "afspraken", variants: []string{
			"Welke afspraken heeft " + NamePlaceholder + " deze week?",
		}},
		{name: "cliënten", variants: []string{
			"Hoeveel actieve cliënten zijn er?",
		}},
	},
	entity.ModeExternal: {
		{name: "dossier", variants: []string{
			"Geef een samenvatting van het dossier van " + NamePlaceholder + ".",
		}},
		{name: "zorgmomenten", variants: []string{
			"Welke zorgmomenten zijn er recent geregistreerd voor " + NamePlaceholder + "?",
		}},
		{name: "zoeken", variants: []string{
			"Zoek in alle documenten naar indicatiebesluiten.",
			"Zoek naar rapportages over valincidenten.",
		}},
	},
}

// Suggestions returns one prompt per category for the mode. When a prompt
// carries the name placeholder and knownNames is non-empty, a name is
// substituted uniformly at random from knownNames.
func Suggestions(mode entity.DocumentSourceMode, knownNames []string, rng *rand.Rand) []string {
	cats, ok := catalogue[mode]
	if !ok {
		return nil
	}

	prompts := make([]string, 0, len(cats))
	for _, cat := range cats {
		variant := cat.variants[0]
		if len(cat.variants) > 1 {
			variant = cat.variants[rng.Intn(len(cat.variants))]
		}
		if len(knownNames) > 0 && strings.Contains(variant, NamePlaceholder) {
			name := knownNames[rng.Intn(len(knownNames))]
			variant = strings.ReplaceAll(variant, NamePlaceholder, name)
		}
		prompts = append(prompts, variant)
	}
	return prompts
}
