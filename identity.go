package main

import (
	"crypto/rand"
	"math/big"
)

// shuffleIdentities returns a uniformly random permutation of the given user
// ids: the participant at position i will portray shuffled[i]. Every one of
// the n! permutations is equally likely, including permutations with fixed
// points, so a participant may be assigned their own identity. Pure function,
// never touches storage.
func shuffleIdentities(userIDs []string) []string {
	shuffled := make([]string, len(userIDs))
	copy(shuffled, userIDs)

	for i := len(shuffled) - 1; i > 0; i-- {
		jBig, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			// Fallback: just swap with the previous element
			shuffled[i], shuffled[i-1] = shuffled[i-1], shuffled[i]
			continue
		}
		j := int(jBig.Int64())
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}

	return shuffled
}

// assignIdentities maps each participant userId to the identity they will
// portray. The result is a bijection over the input set.
func assignIdentities(userIDs []string) map[string]string {
	shuffled := shuffleIdentities(userIDs)
	assignments := make(map[string]string, len(userIDs))
	for i, userID := range userIDs {
		assignments[userID] = shuffled[i]
	}
	return assignments
}
