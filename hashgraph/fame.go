package hashgraph

import "encoding/hex"

// coinRoundPeriod: every 6th round of a fame election uses the coin-round
// tiebreak instead of another supermajority vote.
const coinRoundPeriod = 6

// DecideFame runs virtual voting over undetermined witnesses and returns
// the rounds newly added to the consensus set, in ascending order. A round
// enters the set once every one of its witnesses has a fame decision.
func (e *Engine) DecideFame() ([]int, error) {
	maxC := e.maxConsensusRound()
	maxR := e.maxWitnessRound()

	for rVoter := maxC + 1; rVoter <= maxR; rVoter++ {
		voters := e.Witnesses(rVoter)
		for _, y := range voters {
			var yEvent *Event
			for rSubject := maxC + 1; rSubject < rVoter; rSubject++ {
				subjects := e.Witnesses(rSubject)
				for _, x := range subjects {
					_, decided, err := e.getFamous(x)
					if err != nil {
						return nil, err
					}
					if decided {
						continue
					}
					if yEvent == nil {
						if yEvent, err = e.getEvent(y); err != nil {
							return nil, err
						}
					}
					if err := e.castFameVote(y, yEvent, x, rVoter, rSubject); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	var newlyDecided []int
	for r := maxC + 1; r <= maxR; r++ {
		if e.isConsensusRound(r) {
			continue
		}
		witnesses := e.Witnesses(r)
		if len(witnesses) == 0 {
			continue
		}
		allDecided := true
		for _, w := range witnesses {
			_, decided, err := e.getFamous(w)
			if err != nil {
				return nil, err
			}
			if !decided {
				allDecided = false
				break
			}
		}
		if allDecided {
			if err := e.markConsensusRound(r); err != nil {
				return nil, err
			}
			newlyDecided = append(newlyDecided, r)
		}
	}
	return newlyDecided, nil
}

func (e *Engine) castFameVote(y EventID, yEvent *Event, x EventID, rVoter, rSubject int) error {
	s, err := e.strongSeenWitnesses(y, rVoter-1)
	if err != nil {
		return err
	}

	diff := rVoter - rSubject
	switch {
	case diff == 1:
		member := containsEventID(s, x)
		return e.recordVote(y, x, member)

	case diff%coinRoundPeriod != 0:
		v, t, err := e.supermajorityVote(s, x)
		if err != nil {
			return err
		}
		if t >= e.MinStake() {
			return e.putFamous(x, v)
		}
		return e.recordVote(y, x, v)

	default: // coin round
		v, t, err := e.supermajorityVote(s, x)
		if err != nil {
			return err
		}
		if t >= e.MinStake() {
			return e.recordVote(y, x, v)
		}
		return e.recordVote(y, x, coinFlip(yEvent))
	}
}

// strongSeenWitnesses returns the round-r witness events strongly seen by
// voter, the electorate for each of voter's fame votes.
func (e *Engine) strongSeenWitnesses(voter EventID, r int) ([]EventID, error) {
	creators, err := e.StronglySee(voter, r)
	if err != nil {
		return nil, err
	}
	var out []EventID
	for creator := range creators {
		w, err := e.getWitness(r, creator)
		if err != nil {
			continue // no witness for that creator at r (legal)
		}
		out = append(out, w)
	}
	return out, nil
}

// supermajorityVote tallies vote_of(w)[x] for w in s, weighted by stake
// (1 per witness), and returns the majority value and its weight.
func (e *Engine) supermajorityVote(s []EventID, x EventID) (bool, int, error) {
	trueCount, falseCount := 0, 0
	for _, w := range s {
		vote, err := e.getVote(w)
		if err != nil {
			return false, 0, err
		}
		v, ok := vote[x]
		if !ok {
			continue
		}
		if v {
			trueCount++
		} else {
			falseCount++
		}
	}
	if trueCount >= falseCount {
		return true, trueCount, nil
	}
	return false, falseCount, nil
}

func (e *Engine) recordVote(voter, subject EventID, v bool) error {
	vote, err := e.getVote(voter)
	if err != nil {
		return err
	}
	vote[subject] = v
	return e.putVote(voter, vote)
}

// coinFlip returns the low bit of the first byte of the voter's event
// signature, the deadlock-breaking coin for coin rounds.
func coinFlip(ev *Event) bool {
	b, err := hex.DecodeString(ev.Signature)
	if err != nil || len(b) == 0 {
		return false
	}
	return b[0]&1 == 1
}

func containsEventID(s []EventID, target EventID) bool {
	for _, id := range s {
		if id == target {
			return true
		}
	}
	return false
}
