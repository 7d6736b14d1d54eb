package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bdgd-pro/vinculo/pkg/models"
)

func TestScoreCEP(t *testing.T) {
	s := NewScorer(DefaultScorerConfig())

	t.Run("exact match", func(t *testing.T) {
		assert.Equal(t, 40.0, s.ScoreCEP("01310100", "01310100"))
	})

	t.Run("equal truncated codes still earn full credit", func(t *testing.T) {
		assert.Equal(t, 40.0, s.ScoreCEP("0131010", "0131010"))
	})

	t.Run("five digit prefix earns partial credit", func(t *testing.T) {
		assert.Equal(t, 25.0, s.ScoreCEP("01310100", "01310999"))
	})

	t.Run("short shared prefix scores zero", func(t *testing.T) {
		assert.Equal(t, 0.0, s.ScoreCEP("01310100", "01399999"))
	})

	t.Run("empty sides score zero", func(t *testing.T) {
		assert.Equal(t, 0.0, s.ScoreCEP("", "01310100"))
		assert.Equal(t, 0.0, s.ScoreCEP("01310100", ""))
	})
}

func TestScoreCNAE(t *testing.T) {
	s := NewScorer(DefaultScorerConfig())

	t.Run("exact seven digits", func(t *testing.T) {
		a := RecordFields{CNAE: "4712100", CNAEClass: "47121"}
		b := RecordFields{CNAE: "4712100", CNAEClass: "47121"}
		assert.Equal(t, 25.0, s.ScoreCNAE(a, b))
	})

	t.Run("same class different subclass", func(t *testing.T) {
		a := RecordFields{CNAE: "4712100", CNAEClass: "47121"}
		b := RecordFields{CNAE: "4712199", CNAEClass: "47121"}
		assert.Equal(t, 15.0, s.ScoreCNAE(a, b))
	})

	t.Run("different class", func(t *testing.T) {
		a := RecordFields{CNAE: "4712100", CNAEClass: "47121"}
		b := RecordFields{CNAE: "5611201", CNAEClass: "56112"}
		assert.Equal(t, 0.0, s.ScoreCNAE(a, b))
	})

	t.Run("both empty", func(t *testing.T) {
		assert.Equal(t, 0.0, s.ScoreCNAE(RecordFields{}, RecordFields{}))
	})
}

func TestScoreAddress(t *testing.T) {
	s := NewScorer(DefaultScorerConfig())

	t.Run("identical streets", func(t *testing.T) {
		assert.Equal(t, 20.0, s.ScoreAddress("AVENIDA PAULISTA", "AVENIDA PAULISTA"))
	})

	t.Run("partial token overlap", func(t *testing.T) {
		// {AVENIDA, PAULISTA} vs {AVENIDA, BRASIL}: 1 of 3 tokens shared
		got := s.ScoreAddress("AVENIDA PAULISTA", "AVENIDA BRASIL")
		assert.InDelta(t, 20.0/3, got, 0.01)
	})

	t.Run("below floor scores zero", func(t *testing.T) {
		assert.Equal(t, 0.0, s.ScoreAddress("AVENIDA PAULISTA", "RUA QUINZE NOVEMBRO CENTRO LESTE"))
	})

	t.Run("empty scores zero", func(t *testing.T) {
		assert.Equal(t, 0.0, s.ScoreAddress("", "AVENIDA PAULISTA"))
	})
}

func TestScoreNumber(t *testing.T) {
	s := NewScorer(DefaultScorerConfig())

	assert.Equal(t, 10.0, s.ScoreNumber("123", "123"))
	assert.Equal(t, 0.0, s.ScoreNumber("123", "124"))
	assert.Equal(t, 0.0, s.ScoreNumber("", ""))
}

func TestScoreNeighborhood(t *testing.T) {
	s := NewScorer(DefaultScorerConfig())

	t.Run("exact", func(t *testing.T) {
		assert.Equal(t, 5.0, s.ScoreNeighborhood("CENTRO", "CENTRO"))
	})

	t.Run("partial overlap", func(t *testing.T) {
		assert.Equal(t, 2.5, s.ScoreNeighborhood("JARDIM AMERICA", "JARDIM EUROPA"))
	})

	t.Run("no overlap", func(t *testing.T) {
		assert.Equal(t, 0.0, s.ScoreNeighborhood("CENTRO", "LAPA"))
	})
}

func TestScoreTotalIsBounded(t *testing.T) {
	s := NewScorer(DefaultScorerConfig())

	fields := RecordFields{
		CEP:          "01310100",
		CNAE:         "4712100",
		CNAEClass:    "47121",
		Address:      "AVENIDA PAULISTA",
		Number:       "1000",
		Neighborhood: "BELA VISTA",
	}

	scores := s.Score(fields, fields)
	assert.Equal(t, 100.0, scores.Total())
	assert.Equal(t, models.FieldScores{
		CEP:          40,
		CNAE:         25,
		Address:      20,
		Number:       10,
		Neighborhood: 5,
	}, scores)
}

func TestScoreIsDeterministic(t *testing.T) {
	s := NewScorer(DefaultScorerConfig())

	a := RecordFields{CEP: "01310100", Address: "RUA AUGUSTA", Neighborhood: "CONSOLACAO"}
	b := RecordFields{CEP: "01310999", Address: "RUA AUGUSTA CENTRO", Neighborhood: "CONSOLACAO"}

	first := s.Score(a, b)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, s.Score(a, b))
	}
}
