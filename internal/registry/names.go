package registry

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

var adjectives = []string{
	"quick", "silent", "amber", "brave", "lucky", "calm", "eager", "gentle",
	"bold", "clever", "bright", "swift", "wise", "steady", "nimble", "keen",
}

var nouns = []string{
	"falcon", "otter", "cedar", "harbor", "comet", "ridge", "lantern",
	"sparrow", "meadow", "ember", "glacier", "orbit", "thicket", "beacon",
	"canyon", "tide",
}

// GenerateName produces a random "adjective_noun" token, used as a node's
// name when the caller doesn't supply one.
func GenerateName() string {
	return fmt.Sprintf("%s_%s", pick(adjectives), pick(nouns))
}

func pick(words []string) string {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
	if err != nil {
		return words[0]
	}
	return words[n.Int64()]
}
