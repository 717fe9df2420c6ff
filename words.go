package main

import (
	"math/rand/v2"

	"github.com/spf13/viper"
)

// WordSide is one half of a pair: the word a role sees, plus its definition.
type WordSide struct {
	Word       string `json:"word"`
	Definition string `json:"definition"`
}

// WordPair holds the civilian word and its undercover counterpart. A pair is
// drawn once per session and fixed for its lifetime.
type WordPair struct {
	Civilian   WordSide `json:"civilian"`
	Undercover WordSide `json:"undercover"`
}

// The stock pairs shipped with the game.
var builtinPairs = []WordPair{
	{
		Civilian:   WordSide{Word: "Plage", Definition: "Étendue de sable ou de galets au bord de la mer"},
		Undercover: WordSide{Word: "Piscine", Definition: "Bassin artificiel rempli d'eau pour la baignade"},
	},
	{
		Civilian:   WordSide{Word: "Livre", Definition: "Assemblage de feuilles imprimées contenant du texte"},
		Undercover: WordSide{Word: "Journal", Definition: "Publication périodique relatant l'actualité"},
	},
	{
		Civilian:   WordSide{Word: "Pomme", Definition: "Fruit comestible de couleur rouge, verte ou jaune"},
		Undercover: WordSide{Word: "Poire", Definition: "Fruit comestible à la chair juteuse et sucrée"},
	},
	{
		Civilian:   WordSide{Word: "Voiture", Definition: "Véhicule à quatre roues propulsé par un moteur"},
		Undercover: WordSide{Word: "Moto", Definition: "Véhicule à deux roues propulsé par un moteur"},
	},
	{
		Civilian:   WordSide{Word: "Chien", Definition: "Animal domestique canin, souvent gardien ou compagnon"},
		Undercover: WordSide{Word: "Chat", Definition: "Petit félin domestique, indépendant et chasseur"},
	},
	{
		Civilian:   WordSide{Word: "Café", Definition: "Boisson stimulante préparée à partir de grains torréfiés"},
		Undercover: WordSide{Word: "Thé", Definition: "Boisson préparée par infusion de feuilles séchées"},
	},
	{
		Civilian:   WordSide{Word: "Cinéma", Definition: "Salle où l'on projette des films sur grand écran"},
		Undercover: WordSide{Word: "Théâtre", Definition: "Lieu où l'on présente des spectacles vivants"},
	},
	{
		Civilian:   WordSide{Word: "Avion", Definition: "Aéronef plus lourd que l'air propulsé par des moteurs"},
		Undercover: WordSide{Word: "Hélicoptère", Definition: "Aéronef à voilure tournante capable de vol stationnaire"},
	},
	{
		Civilian:   WordSide{Word: "Pizza", Definition: "Galette de pâte garnie de divers ingrédients et cuite au four"},
		Undercover: WordSide{Word: "Burger", Definition: "Sandwich composé d'une galette de viande hachée"},
	},
	{
		Civilian:   WordSide{Word: "Montagne", Definition: "Relief élevé de la surface terrestre"},
		Undercover: WordSide{Word: "Colline", Definition: "Relief de faible altitude, moins imposant qu'une montagne"},
	},
}

// loadWordPairs reads custom pairs from a file of the form:
//
//	pairs:
//	  - civilian: {word: Plage, definition: ...}
//	    undercover: {word: Piscine, definition: ...}
//
// Entries missing either word are dropped rather than rejected.
func loadWordPairs(path string) ([]WordPair, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var loaded []WordPair
	if err := v.UnmarshalKey("pairs", &loaded); err != nil {
		return nil, err
	}

	pairs := make([]WordPair, 0, len(loaded))
	for _, p := range loaded {
		if p.Civilian.Word == "" || p.Undercover.Word == "" {
			continue
		}
		pairs = append(pairs, p)
	}

	return pairs, nil
}

// choosePair picks a pair whose words have not been played in this room
// before, falling back to the full pool once every pair has been used.
func choosePair(pool []WordPair, used map[string]bool, rng *rand.Rand) WordPair {
	available := make([]WordPair, 0, len(pool))
	for _, p := range pool {
		if used[p.Civilian.Word] || used[p.Undercover.Word] {
			continue
		}
		available = append(available, p)
	}

	if len(available) == 0 {
		available = pool
	}

	return available[rng.IntN(len(available))]
}
