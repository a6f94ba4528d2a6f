package hashgraph

// DivideRounds processes event ids in topological order (parents before
// children — callers, typically the sync/insert path, guarantee this),
// computing can_see, round, and witness status for each.
func (e *Engine) DivideRounds(ids []EventID) error {
	for _, id := range ids {
		if err := e.divideRound(id); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) divideRound(id EventID) error {
	ev, err := e.getEvent(id)
	if err != nil {
		return err
	}
	creatorHex := ev.CreatorPubKey

	if ev.IsRoot() {
		cs := CanSeeMap{creatorHex: id}
		if err := e.putCanSee(id, cs); err != nil {
			return err
		}
		if err := e.putRound(id, 0); err != nil {
			return err
		}
		return e.promoteWitnessIfFirst(0, creatorHex, id)
	}

	cs0, err := e.getCanSee(ev.SelfParent())
	if err != nil {
		return err
	}
	cs1, err := e.getCanSee(ev.OtherParent())
	if err != nil {
		return err
	}
	merged, err := e.mergeByHigherHeight(cs0, cs1)
	if err != nil {
		return err
	}
	merged[creatorHex] = id
	if err := e.putCanSee(id, merged); err != nil {
		return err
	}

	r0, err := e.getRound(ev.SelfParent())
	if err != nil {
		return err
	}
	r1, err := e.getRound(ev.OtherParent())
	if err != nil {
		return err
	}
	r := maxInt(r0, r1)

	hits, err := e.stronglySeeHits(id, r)
	if err != nil {
		return err
	}
	seeing := 0
	for _, n := range hits {
		if n >= e.MinStake() {
			seeing++
		}
	}

	if seeing >= e.MinStake() {
		if err := e.putRound(id, r+1); err != nil {
			return err
		}
		return e.promoteWitnessIfFirst(r+1, creatorHex, id)
	}
	return e.putRound(id, r)
}

// mergeByHigherHeight merges two CanSeeMaps, keeping for each creator
// whichever recorded event has the greater height.
func (e *Engine) mergeByHigherHeight(a, b CanSeeMap) (CanSeeMap, error) {
	merged := make(CanSeeMap, len(a)+len(b))
	for c, id := range a {
		merged[c] = id
	}
	for c, id := range b {
		existing, ok := merged[c]
		if !ok {
			merged[c] = id
			continue
		}
		if existing == id {
			continue
		}
		hExisting, err := e.getHeight(existing)
		if err != nil {
			return nil, err
		}
		hNew, err := e.getHeight(id)
		if err != nil {
			return nil, err
		}
		if hNew > hExisting {
			merged[c] = id
		}
	}
	return merged, nil
}

// promoteWitnessIfFirst records id as the round-r witness for creatorHex if
// no earlier witness of that creator exists for r yet: each round keeps at
// most one witness per creator, the lowest-height event of that creator in
// the round.
func (e *Engine) promoteWitnessIfFirst(round int, creatorHex string, id EventID) error {
	if _, err := e.getWitness(round, creatorHex); err == nil {
		return nil // already has a witness
	}
	return e.putWitness(round, creatorHex, id)
}

// stronglySeeHits is the two-hop can-see traversal behind strongly-sees:
// for each (c', k) in can_see(e) with round(k)=r, for each (c'', k'') in
// can_see(k) with round(k'')=r, increment hits[c'']. The caller compares
// each count to MinStake to determine strongly-seen creators.
func (e *Engine) stronglySeeHits(id EventID, r int) (map[string]int, error) {
	hits := make(map[string]int)
	cs, err := e.getCanSee(id)
	if err != nil {
		return nil, err
	}
	for _, k := range cs {
		rk, err := e.getRound(k)
		if err != nil {
			return nil, err
		}
		if rk != r {
			continue
		}
		csK, err := e.getCanSee(k)
		if err != nil {
			return nil, err
		}
		for c2, k2 := range csK {
			rk2, err := e.getRound(k2)
			if err != nil {
				return nil, err
			}
			if rk2 != r {
				continue
			}
			hits[c2]++
		}
	}
	return hits, nil
}

// StronglySee returns the set of creators strongly seen by id at round r:
// those whose round-r witness is visible from id through at least MinStake
// distinct round-r witnesses.
func (e *Engine) StronglySee(id EventID, r int) (map[string]bool, error) {
	hits, err := e.stronglySeeHits(id, r)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for c, n := range hits {
		if n >= e.MinStake() {
			out[c] = true
		}
	}
	return out, nil
}

// Round returns the stored round for id.
func (e *Engine) Round(id EventID) (int, error) {
	return e.getRound(id)
}

// CanSee returns the stored can-see map for id.
func (e *Engine) CanSee(id EventID) (CanSeeMap, error) {
	return e.getCanSee(id)
}

// Witnesses returns every witness event id recorded for round.
func (e *Engine) Witnesses(round int) []EventID {
	return e.listWitnesses(round)
}
