package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRemoveDuplicatePhrases(t *testing.T) {
	phrases := []string{"Ongeval", "ongeval ", "Weg  afgesloten", "weg afgesloten", "", "File"}

	assert.Equal(t, []string{"Ongeval", "Weg afgesloten", "File"}, RemoveDuplicatePhrases(phrases))
}

func TestSplitSentences(t *testing.T) {
	assert.Equal(t,
		[]string{"Ongeval", "Rijstrook dicht", "Vertraging neemt toe"},
		SplitSentences("Ongeval. Rijstrook dicht!\nVertraging neemt toe."),
	)
	assert.Empty(t, SplitSentences("  . "))
}

func TestJoinSentences(t *testing.T) {
	assert.Equal(t, "Ongeval. Rijstrook dicht.", JoinSentences([]string{"Ongeval", "Rijstrook dicht"}))
	assert.Equal(t, "", JoinSentences(nil))
}
