package services

import (
	"sort"

	"clanhall/src/models"
)

// ScoreWeights are the ranking points per member, kill and special kill.
type ScoreWeights struct {
	Member      int
	Kill        int
	SpecialKill int
}

type Ranking struct {
	Rank         int    `json:"rank"`
	Code         string `json:"code"`
	Score        int    `json:"score"`
	Members      int    `json:"members"`
	Kills        int    `json:"kills"`
	Deaths       int    `json:"deaths"`
	SpecialKills int    `json:"special_kills"`
}

func (w ScoreWeights) Score(clan models.Clan) int {
	return clan.Size()*w.Member + clan.Kills*w.Kill + clan.SpecialKills*w.SpecialKill
}

// Rankings orders every clan by score, highest first, ties by code.
func (r *Registry) Rankings(weights ScoreWeights) []Ranking {
	clans := r.Clans()
	out := make([]Ranking, 0, len(clans))
	for _, clan := range clans {
		out = append(out, Ranking{
			Code:         clan.Code,
			Score:        weights.Score(clan),
			Members:      clan.Size(),
			Kills:        clan.Kills,
			Deaths:       clan.Deaths,
			SpecialKills: clan.SpecialKills,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Code < out[j].Code
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
